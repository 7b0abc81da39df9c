package auth

import "errors"

var (
	// ErrAuthFailure is returned by Login for unknown users, inactive users and wrong passwords alike.
	ErrAuthFailure = errors.New("auth: invalid credentials")
	// ErrUnauthenticated covers missing, malformed, expired and forged tokens as well as vanished principals.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the principal is valid but the action is not granted to its role.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrUnavailable wraps credential store failures; callers may retry.
	ErrUnavailable = errors.New("auth: credential store unavailable")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)
