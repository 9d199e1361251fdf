package auth

import (
	"slices"

	"inkwell.org/internal/apierr"
)

// Authorize admits identity when its role is one of roles. A missing
// identity is an authentication failure, never a forbidden one.
func Authorize(identity *Identity, roles ...Role) error {
	if identity == nil {
		return apierr.Authentication(nil)
	}
	if !slices.Contains(roles, identity.Role) {
		return apierr.Forbidden()
	}
	return nil
}
