package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"inkwell.org/internal/auth"
	"inkwell.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, email, username, first_name, last_name, role, is_active, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*auth.Identity, error) {
	var (
		ident       auth.Identity
		first, last sql.NullString
		role        string
	)
	if err := row.Scan(&ident.ID, &ident.Email, &ident.Username, &first, &last, &role, &ident.IsActive, &ident.PasswordHash, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		return nil, err
	}
	ident.FirstName, ident.LastName = first.String, last.String
	ident.Role = auth.Role(role)
	return &ident, nil
}

func (s *Store) FindIdentityByID(ctx context.Context, id string) (*auth.Identity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	ident, err := scanIdentity(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return ident, nil
}

func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	email = strings.ToLower(strings.TrimSpace(email))
	ident, err := scanIdentity(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return ident, nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity *auth.Identity) error {
	if s.db == nil {
		return errNoDB
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, username, first_name, last_name, role, is_active, password_hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, identity.ID, identity.Email, identity.Username, nullIfEmpty(identity.FirstName), nullIfEmpty(identity.LastName),
		string(identity.Role), identity.IsActive, identity.PasswordHash)
	if err := row.Scan(&identity.CreatedAt, &identity.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListIdentities(ctx context.Context, limit, offset int) ([]auth.Identity, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at desc, id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []auth.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate) (*auth.Identity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var b updateBuilder
	if upd.Username != nil {
		b.set("username", *upd.Username)
	}
	if upd.FirstName != nil {
		b.set("first_name", nullIfEmpty(*upd.FirstName))
	}
	if upd.LastName != nil {
		b.set("last_name", nullIfEmpty(*upd.LastName))
	}
	if upd.Role != nil {
		b.set("role", string(*upd.Role))
	}
	if upd.IsActive != nil {
		b.set("is_active", *upd.IsActive)
	}
	if !b.empty() {
		query, args := b.query("users", id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, auth.ErrConflict
			}
			return nil, err
		}
		if err := affected(res, auth.ErrNotFound); err != nil {
			return nil, err
		}
	}
	return s.FindIdentityByID(ctx, id)
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res, auth.ErrNotFound)
}
