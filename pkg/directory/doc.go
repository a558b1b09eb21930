// Package directory resolves external identities to local accounts and
// creates accounts in a fixed global namespace when none exists.
package directory
