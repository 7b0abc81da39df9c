package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cardiavue.org/internal/ids"
)

// TokenConfig configures a TokenCodec. It is built once from process configuration.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

// TokenCodec issues and parses HS256 bearer tokens.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims represents JWT claims carried by session tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// NewTokenCodec validates cfg and returns a codec.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("auth: token ttl must be greater than zero")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &TokenCodec{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    now,
	}, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for subject with the configured TTL.
func (c *TokenCodec) Issue(subject string) (Token, error) {
	return c.IssueWithTTL(subject, c.ttl)
}

// IssueWithTTL signs a token for subject expiring after ttl. Token timestamps have
// whole-second precision, so ExpiresAt is now+ttl truncated to the second and is the
// exact instant Parse starts rejecting the token.
func (c *TokenCodec) IssueWithTTL(subject string, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(subject) == "" {
		return Token{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		return Token{}, errors.New("auth: ttl must be greater than zero")
	}
	now := c.now().UTC()
	issued := jwt.NewNumericDate(now)
	expires := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  issued,
			ExpiresAt: expires,
			ID:        ids.NewAt(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, IssuedAt: issued.Time, ExpiresAt: expires.Time}, nil
}

// Parse verifies raw and returns its subject. The signature is checked over the raw
// segments before any header or payload is decoded. Every failure is ErrUnauthenticated.
func (c *TokenCodec) Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := c.verifySignature(raw); err != nil {
		return "", ErrUnauthenticated
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrUnauthenticated
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return "", ErrUnauthenticated
	}
	// Expiry is a hard boundary: a token is valid only while now < exp.
	if claims.ExpiresAt == nil || !c.now().Before(claims.ExpiresAt.Time) {
		return "", ErrUnauthenticated
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

func (c *TokenCodec) verifySignature(raw string) error {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ErrUnauthenticated
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrUnauthenticated
	}
	// SigningMethodHMAC.Verify compares with hmac.Equal (constant time).
	return jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, c.secret)
}
