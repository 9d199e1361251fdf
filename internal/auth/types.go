package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of the three fixed platform roles.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleReader Role = "READER"
)

// ParseRole accepts any casing and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleReader:
		return true
	}
	return false
}

// Identity is a registered account as seen by the admission pipeline.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Snapshot returns the audit-safe view of the identity.
func (i Identity) Snapshot() map[string]any {
	return map[string]any{
		"id":        i.ID,
		"email":     i.Email,
		"username":  i.Username,
		"firstName": i.FirstName,
		"lastName":  i.LastName,
		"role":      string(i.Role),
		"isActive":  i.IsActive,
	}
}

// IdentityUpdate carries optional changes; nil fields are left untouched.
type IdentityUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
	Role      *Role
	IsActive  *bool
}

func (u IdentityUpdate) Empty() bool {
	return u.Username == nil && u.FirstName == nil && u.LastName == nil && u.Role == nil && u.IsActive == nil
}
