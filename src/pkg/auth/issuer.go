package auth

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints tokens the Verifier accepts. The production issuer lives in
// the backend; this one serves the `token` command and tests.
type Issuer struct {
	Key      ed25519.PrivateKey
	Issuer   string
	Audience string
	Now      func() time.Time
}

func NewIssuer(key ed25519.PrivateKey) *Issuer {
	return &Issuer{
		Key:      key,
		Issuer:   DefaultIssuer,
		Audience: DefaultAudience,
		Now:      time.Now,
	}
}

// Issue signs a token for subject and action. A non-positive ttl produces a
// token without an expiration claim.
func (i *Issuer) Issue(subject, action string, ttl time.Duration) (string, error) {
	if len(i.Key) != ed25519.PrivateKeySize {
		return "", errors.New("issuer has no ed25519 private key")
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	issuedAt := now()

	claims := tokenClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   i.Issuer,
			Subject:  subject,
			Audience: jwt.ClaimStrings{i.Audience},
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.Key)
}
