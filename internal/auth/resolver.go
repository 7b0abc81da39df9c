package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

const bearerScheme = "bearer"

// TokenParser recovers the subject of a bearer token.
type TokenParser interface {
	Parse(raw string) (string, error)
}

// Resolver turns an Authorization header into an active Principal.
type Resolver struct {
	parser        TokenParser
	store         CredentialStore
	lookupTimeout time.Duration
}

// NewResolver wires session resolution. lookupTimeout <= 0 disables the store deadline.
func NewResolver(parser TokenParser, store CredentialStore, lookupTimeout time.Duration) *Resolver {
	return &Resolver{parser: parser, store: store, lookupTimeout: lookupTimeout}
}

// Resolve returns the principal for header. Bad headers, invalid tokens and missing or
// inactive principals all yield ErrUnauthenticated; store failures yield ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, header string) (Principal, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Principal{}, err
	}
	subject, err := r.parser.Parse(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	principal, err := findPrincipal(ctx, r.store, subject, r.lookupTimeout)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if !principal.Active {
		return Principal{}, ErrUnauthenticated
	}
	return principal, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
