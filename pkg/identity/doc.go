// Package identity holds the shared value types and typed errors of the
// reconciliation engine.
package identity
