// Package reconcile implements the identity reconciliation engine: mapping
// provider attributes to local profile fields, deriving account names,
// resolving or creating the local account, and converging profile and group
// state to match the identity provider on every login.
package reconcile
