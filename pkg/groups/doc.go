// Package groups reconciles an account's provider-managed group memberships
// against the groups claimed by the identity provider on each login.
package groups
