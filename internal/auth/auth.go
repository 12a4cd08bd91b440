// Package auth issues and verifies the HS256 bearer tokens that identify the
// acting member.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultIssuer is the iss claim written and required unless overridden.
const DefaultIssuer = "kmp"

// Claims is the token payload. Subject is the member id.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity is what a verified token says about the caller.
type Identity struct {
	MemberID  string
	TokenID   string
	ExpiresAt time.Time
}

// Tokens signs and verifies member tokens with one shared secret.
type Tokens struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures Tokens.
type Option func(*Tokens)

// WithIssuer replaces DefaultIssuer.
func WithIssuer(issuer string) Option {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithLeeway sets the clock skew tolerated on exp and iat.
func WithLeeway(d time.Duration) Option {
	return func(t *Tokens) {
		if d >= 0 {
			t.leeway = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens returns a signer/verifier keyed by secret.
func NewTokens(secret string, opts ...Option) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		leeway: 5 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for memberID valid for ttl.
func (t *Tokens) Issue(memberID string, ttl time.Duration) (string, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return "", errors.New("auth: member id is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be positive")
	}
	now := t.now().UTC()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   memberID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and lifetime and returns the caller.
// Every rejection is reported as ErrInvalidToken.
func (t *Tokens) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(t.leeway),
		jwt.WithTimeFunc(t.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" || claims.IssuedAt == nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		MemberID:  subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
