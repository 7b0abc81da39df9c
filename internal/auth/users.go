package auth

import (
	"context"
	"fmt"
	"strings"
)

// NewUser is the input of the user-management flow.
type NewUser struct {
	Username string
	Password string
	Role     string
	Email    string
	FullName string
}

// RegisterUser validates in, hashes the password and stores an active principal.
func RegisterUser(ctx context.Context, store UserStore, hasher Hasher, in NewUser) (Principal, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || username != in.Username {
		return Principal{}, fmt.Errorf("%w: username must be non-empty without surrounding spaces", ErrInvalidInput)
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return Principal{}, err
	}
	hash, err := hasher.Hash(in.Password)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return store.CreateUser(ctx, Principal{
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		Active:       true,
		PasswordHash: hash,
	})
}
