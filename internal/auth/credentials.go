package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"inkwell.org/internal/apierr"
)

var (
	errUnknownEmail  = errors.New("unknown email")
	errWrongPassword = errors.New("password mismatch")
)

// dummyHash is compared against when the email is unknown so both paths
// cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("inkwell-dummy-password")
	return h
})

// CredentialVerifier checks an (email, password) pair against the stored hash.
type CredentialVerifier struct {
	identities IdentityStore
}

func NewCredentialVerifier(identities IdentityStore) *CredentialVerifier {
	return &CredentialVerifier{identities: identities}
}

// Verify returns the matching identity. Unknown email and wrong password
// produce the same 401. A correct password on a deactivated account is
// reported as such.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	identity, err := v.identities.FindIdentityByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		VerifyPassword(password, dummyHash())
		return nil, apierr.InvalidCredentials(errUnknownEmail)
	}
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("find identity by email: %w", err))
	}
	if !VerifyPassword(password, identity.PasswordHash) {
		return nil, apierr.InvalidCredentials(errWrongPassword)
	}
	if !identity.IsActive {
		e := apierr.Authentication(errIdentityInactive)
		e.Message = "Account is deactivated"
		return nil, e
	}
	return identity, nil
}
