// Package assertion validates identity-provider responses (SAML 2.0
// assertions and OIDC ID tokens) and extracts the external identity consumed
// by the reconciliation engine. All cryptographic validation happens here;
// downstream packages trust the resulting identity.
package assertion
