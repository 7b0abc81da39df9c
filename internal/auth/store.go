package auth

import "context"

// CredentialStore is the read side used by login and session resolution.
// FindPrincipal returns ErrNotFound when no principal has the exact username.
type CredentialStore interface {
	FindPrincipal(ctx context.Context, username string) (Principal, error)
}

// UserStore adds the user-management flow on top of CredentialStore.
type UserStore interface {
	CredentialStore
	CreateUser(ctx context.Context, p Principal) (Principal, error)
	SetActive(ctx context.Context, username string, active bool) error
	ListUsers(ctx context.Context) ([]Principal, error)
}
