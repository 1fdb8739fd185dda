package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JWKSPath is where the signing key set is served.
const JWKSPath = "/.well-known/jwks.json"

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS returns the key set verifiers use to check endorsements.
func (e *Endorser) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{rsaPublicKeyToJWK(e.pub, e.kid)}}
}

// RegisterWellKnown attaches the JWKS route.
func (e *Endorser) RegisterWellKnown(r gin.IRoutes) {
	r.GET(JWKSPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, e.JWKS())
	})
}

// rsaPublicKeyToJWK encodes an RSA public key as a JWK (RFC 7518 §6.3).
func rsaPublicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())

	// Exponent as big-endian, minimal-length bytes.
	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(pub.E))
	i := 0
	for i < len(eBuf)-1 && eBuf[i] == 0 {
		i++
	}
	e := base64.RawURLEncoding.EncodeToString(eBuf[i:])

	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: "RS256", N: n, E: e}
}
