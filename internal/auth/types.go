package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleDoctor, RoleNurse}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse:
		return true
	default:
		return false
	}
}

// ParseRole normalises raw and rejects unknown values.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Resource is a protected resource class.
type Resource string

const (
	ResourceClinic       Resource = "clinic"
	ResourcePatient      Resource = "patient"
	ResourceTransmission Resource = "transmission"
)

func (r Resource) valid() bool {
	switch r {
	case ResourceClinic, ResourcePatient, ResourceTransmission:
		return true
	default:
		return false
	}
}

// Action is an operation on a resource class.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Principal is an authenticated actor. PasswordHash never leaves the process.
type Principal struct {
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Role         Role      `json:"role"`
	Active       bool      `json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
