// Package httpapi exposes the authentication HTTP surface: login initiation,
// assertion callbacks, logout, and service provider metadata. Handlers
// validate transport-level concerns and hand the resulting external identity
// to the reconciliation engine.
package httpapi
