package pg

import (
	"context"
	"database/sql"
	"errors"

	"inkwell.org/internal/content"
	"inkwell.org/internal/ids"
)

const commentColumns = `id, post_id, parent_id, author_id, content, is_active, created_at, updated_at`

func scanComment(row rowScanner) (*content.Comment, error) {
	var (
		c      content.Comment
		parent sql.NullString
	)
	if err := row.Scan(&c.ID, &c.PostID, &parent, &c.AuthorID, &c.Content, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	return &c, nil
}

func (s *Store) CreateComment(ctx context.Context, c *content.Comment) error {
	if s.db == nil {
		return errNoDB
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.ParentID != "" {
		var parentPost string
		err := s.db.QueryRowContext(ctx, `select post_id from comments where id = $1`, c.ParentID).Scan(&parentPost)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parentPost != c.PostID) {
			return content.ErrInvalidInput
		}
		if err != nil {
			return err
		}
	}
	c.IsActive = true
	row := s.db.QueryRowContext(ctx, `
		insert into comments (id, post_id, parent_id, author_id, content, is_active)
		values ($1, $2, $3, $4, $5, true)
		returning created_at, updated_at
	`, c.ID, c.PostID, nullIfEmpty(c.ParentID), c.AuthorID, c.Content)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return content.ErrConflict
			case pgErrForeignKeyViolation:
				return content.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*content.Comment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	c, err := scanComment(s.db.QueryRowContext(ctx, `select `+commentColumns+` from comments where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context, postID string, opts content.ListOptions) ([]content.Comment, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	var total int
	err := s.db.QueryRowContext(ctx, `
		select count(c.id)
		from posts p
		left join comments c on c.post_id = p.id and c.is_active
		where p.id = $1
		group by p.id
	`, postID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, content.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+commentColumns+`
		from comments
		where post_id = $1 and is_active
		order by created_at, id
		limit $2 offset $3
	`, postID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []content.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpdateComment(ctx context.Context, id, body string) (*content.Comment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update comments set content = $1, updated_at = now() where id = $2`, body, id)
	if err != nil {
		return nil, err
	}
	if err := affected(res, content.ErrNotFound); err != nil {
		return nil, err
	}
	return s.GetComment(ctx, id)
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from comments where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res, content.ErrNotFound)
}
