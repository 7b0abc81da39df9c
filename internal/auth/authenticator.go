package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenType is the token_type reported to clients.
const TokenType = "bearer"

// dummyPassword is hashed once so unknown usernames cost a bcrypt comparison too.
const dummyPassword = "cardiavue-unknown-principal"

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject string) (Token, error)
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Principal   Principal
}

// Authenticator verifies credentials and issues session tokens.
type Authenticator struct {
	store         CredentialStore
	hasher        Hasher
	issuer        TokenIssuer
	lookupTimeout time.Duration
	dummyHash     string
}

// NewAuthenticator wires the login flow. lookupTimeout <= 0 disables the store deadline.
func NewAuthenticator(store CredentialStore, hasher Hasher, issuer TokenIssuer, lookupTimeout time.Duration) *Authenticator {
	dummy, _ := hasher.Hash(dummyPassword)
	return &Authenticator{
		store:         store,
		hasher:        hasher,
		issuer:        issuer,
		lookupTimeout: lookupTimeout,
		dummyHash:     dummy,
	}
}

// Login returns a session for an active principal with a matching password.
// Unknown usernames, inactive principals and wrong passwords all yield ErrAuthFailure.
func (a *Authenticator) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		a.hasher.Verify(password, a.dummyHash)
		return Session{}, ErrAuthFailure
	}

	principal, err := findPrincipal(ctx, a.store, username, a.lookupTimeout)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.hasher.Verify(password, a.dummyHash)
			return Session{}, ErrAuthFailure
		}
		return Session{}, err
	}

	passwordOK := a.hasher.Verify(password, principal.PasswordHash)
	if !passwordOK || !principal.Active {
		return Session{}, ErrAuthFailure
	}

	tok, err := a.issuer.Issue(principal.Username)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		AccessToken: tok.Value,
		TokenType:   TokenType,
		ExpiresAt:   tok.ExpiresAt,
		Principal:   principal,
	}, nil
}

// findPrincipal bounds the store lookup and maps infrastructure failures to ErrUnavailable.
func findPrincipal(ctx context.Context, store CredentialStore, username string, timeout time.Duration) (Principal, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p, err := store.FindPrincipal(ctx, username)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, ErrNotFound):
		return Principal{}, ErrNotFound
	default:
		return Principal{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
