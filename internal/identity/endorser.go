package identity

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

// ErrDigestMismatch is returned when a card no longer matches its endorsement.
var ErrDigestMismatch = errors.New("card digest does not match endorsement")

// EndorsementClaims are the JWT claims of a card endorsement. The subject is
// the card URL.
type EndorsementClaims struct {
	jwt.RegisteredClaims
	CardDigest string `json:"card_digest"`
	AgentName  string `json:"agent_name,omitempty"`
}

// Endorser signs and verifies agent card endorsements with RS256.
type Endorser struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	kid    string
	issuer string
	ttl    time.Duration
}

// NewEndorser creates an Endorser.
//
//	issuer   the "iss" claim; typically the agent's public URL.
//	ttl      endorsement lifetime (default: 24 hours).
func NewEndorser(key *rsa.PrivateKey, issuer string, ttl time.Duration) *Endorser {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Endorser{
		key:    key,
		pub:    &key.PublicKey,
		kid:    keyID(&key.PublicKey),
		issuer: issuer,
		ttl:    ttl,
	}
}

// KeyID returns the "kid" header value of issued tokens.
func (e *Endorser) KeyID() string { return e.kid }

// PublicKey returns the verification key.
func (e *Endorser) PublicKey() *rsa.PublicKey { return e.pub }

// Endorse returns a copy of card with the Endorsement field set. Any previous
// endorsement is replaced.
func (e *Endorser) Endorse(card *agentcard.AgentCard) (*agentcard.AgentCard, error) {
	digest, err := Digest(card)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	claims := EndorsementClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   card.URL,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
			ID:        uuid.New().String(),
		},
		CardDigest: digest,
		AgentName:  card.Name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = e.kid
	signed, err := token.SignedString(e.key)
	if err != nil {
		return nil, fmt.Errorf("sign endorsement: %w", err)
	}

	out := card.Clone()
	out.Endorsement = signed
	return out, nil
}

// Verify checks the card's endorsement signature, expiry and digest.
func (e *Endorser) Verify(card *agentcard.AgentCard) (*EndorsementClaims, error) {
	if card.Endorsement == "" {
		return nil, fmt.Errorf("card has no endorsement")
	}
	token, err := jwt.ParseWithClaims(
		card.Endorsement,
		&EndorsementClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return e.pub, nil
		},
		jwt.WithIssuer(e.issuer),
		jwt.WithSubject(card.URL),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify endorsement: %w", err)
	}
	claims, ok := token.Claims.(*EndorsementClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid endorsement claims")
	}

	digest, err := Digest(card)
	if err != nil {
		return nil, err
	}
	if digest != claims.CardDigest {
		return nil, ErrDigestMismatch
	}
	return claims, nil
}

// Digest returns the hex SHA-256 of the card's JSON form without its
// endorsement.
func Digest(card *agentcard.AgentCard) (string, error) {
	if card == nil {
		return "", fmt.Errorf("digest: nil card")
	}
	cp := *card
	cp.Endorsement = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("marshal card: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func keyID(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "agent-signing-key"
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8])
}
