package auth

import "context"

// IdentityStore is the read side used by token verification and login.
type IdentityStore interface {
	FindIdentityByID(ctx context.Context, id string) (*Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (*Identity, error)
}

// UserStore manages accounts. Create and Update return ErrConflict on a
// duplicate email or username.
type UserStore interface {
	IdentityStore
	CreateIdentity(ctx context.Context, identity *Identity) error
	ListIdentities(ctx context.Context, limit, offset int) ([]Identity, int, error)
	UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate) (*Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}
