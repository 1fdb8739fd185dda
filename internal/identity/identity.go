// Package identity endorses agent cards.
//
// It provides:
//   - Endorser        signs a digest of the agent card as an RS256 JWT and verifies it
//   - JWKS            the public signing key as a JSON Web Key Set
//   - LoadOrCreateKey loads the RSA signing key from disk or creates it
package identity
