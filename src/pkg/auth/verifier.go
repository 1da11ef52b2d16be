package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/twivo/twivo-media/src/pkg/logging"
	"github.com/twivo/twivo-media/src/pkg/utils"
)

const (
	DefaultIssuer   = "twivo-backend"
	DefaultAudience = "twivo-media"

	ActionUploadImage = "uploadImage"
	ActionListImages  = "listImages"
	ActionReadImage   = "readImage"
	ActionDeleteImage = "deleteImage"
)

// ErrUnauthorized is the only error Verify reports. The concrete cause is
// logged, never returned.
var ErrUnauthorized = errors.New("unauthorized")

// Claim is the identity extracted from a fully verified token.
type Claim struct {
	Subject   string
	Action    string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Action string `json:"action"`
	jwt.RegisteredClaims
}

type Verifier struct {
	key      atomic.Pointer[ed25519.PublicKey]
	issuer   string
	audience string
	action   string
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Verifier)

func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

func WithAudience(audience string) Option {
	return func(v *Verifier) { v.audience = audience }
}

// WithAction sets the action tag Verify requires.
func WithAction(action string) Option {
	return func(v *Verifier) { v.action = action }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

func NewVerifier(key ed25519.PublicKey, opts ...Option) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length %d", len(key))
	}
	v := &Verifier{
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		action:   ActionUploadImage,
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.SetKey(key)
	return v, nil
}

// SetKey swaps the verification key. In-flight verifications finish with the
// key they started with.
func (v *Verifier) SetKey(key ed25519.PublicKey) {
	k := append(ed25519.PublicKey(nil), key...)
	v.key.Store(&k)
}

// Verify checks token for the configured upload action.
func (v *Verifier) Verify(token string) (*Claim, error) {
	return v.VerifyAction(token, v.action)
}

// VerifyAction checks the signature, issuer, audience, action and expiry of
// token. It fails closed: any violation yields ErrUnauthorized and no claim.
func (v *Verifier) VerifyAction(token, action string) (*Claim, error) {
	if token == "" {
		return v.reject(errors.New("missing token"))
	}

	key := *v.key.Load()
	claims := &tokenClaims{}
	parsed, parseErr := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.now),
		// exp is inclusive: a token is still valid at its expiry instant.
		jwt.WithLeeway(time.Nanosecond),
	)
	if parseErr != nil {
		return v.reject(parseErr)
	}
	if !parsed.Valid {
		return v.reject(errors.New("token is not valid"))
	}
	if claims.Action != action {
		return v.reject(fmt.Errorf("action %q does not match %q", claims.Action, action))
	}
	if claims.Subject == "" {
		return v.reject(errors.New("token has no subject"))
	}

	claim := &Claim{
		Subject: claims.Subject,
		Action:  claims.Action,
	}
	if claims.ExpiresAt != nil {
		claim.ExpiresAt = claims.ExpiresAt.Time
	}
	return claim, nil
}

func (v *Verifier) reject(cause error) (*Claim, error) {
	v.logger.Warn("token verification failed", "error", cause)
	return nil, ErrUnauthorized
}

// Watch reloads the public key whenever path changes, until ctx is done. A
// key that fails to load is ignored and the previous one stays active.
func (v *Verifier) Watch(ctx context.Context, path string) error {
	return utils.WatchFile(ctx, path, func() {
		key, keyErr := LoadPublicKey(path)
		if keyErr != nil {
			v.logger.Warn("public key reload failed, keeping previous key", "path", path, "error", keyErr)
			return
		}
		v.SetKey(key)
		v.logger.Info("public key reloaded", "path", path)
	})
}
