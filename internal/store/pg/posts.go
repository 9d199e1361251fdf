package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"inkwell.org/internal/content"
	"inkwell.org/internal/ids"
)

var _ content.Store = (*Store)(nil)

const postColumns = `id, title, content, excerpt, status, image_url, tags, author_id, created_at, updated_at`

func scanPost(row rowScanner) (*content.Post, error) {
	var (
		p                 content.Post
		excerpt, imageURL sql.NullString
		status            string
		rawTags           []byte
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &excerpt, &status, &imageURL, &rawTags, &p.AuthorID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Excerpt, p.ImageURL = excerpt.String, imageURL.String
	p.Status = content.PostStatus(status)
	if len(rawTags) > 0 {
		if err := json.Unmarshal(rawTags, &p.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &p, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return b, nil
}

func (s *Store) CreatePost(ctx context.Context, p *content.Post) error {
	if s.db == nil {
		return errNoDB
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into posts (id, title, content, excerpt, status, image_url, tags, author_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, p.ID, p.Title, p.Content, nullIfEmpty(p.Excerpt), string(p.Status), nullIfEmpty(p.ImageURL), tags, p.AuthorID)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return content.ErrConflict
			case pgErrForeignKeyViolation:
				return content.ErrInvalidInput
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*content.Post, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	p, err := scanPost(s.db.QueryRowContext(ctx, `select `+postColumns+` from posts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPosts(ctx context.Context, opts content.ListOptions) ([]content.Post, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	status := nullIfEmpty(string(opts.Status))
	var total int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from posts where ($1::text is null or status = $1)
	`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+postColumns+`
		from posts
		where ($1::text is null or status = $1)
		order by created_at desc, id desc
		limit $2 offset $3
	`, status, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []content.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpdatePost(ctx context.Context, id string, upd content.PostUpdate) (*content.Post, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var b updateBuilder
	if upd.Title != nil {
		b.set("title", *upd.Title)
	}
	if upd.Content != nil {
		b.set("content", *upd.Content)
	}
	if upd.Excerpt != nil {
		b.set("excerpt", nullIfEmpty(*upd.Excerpt))
	}
	if upd.Status != nil {
		b.set("status", string(*upd.Status))
	}
	if upd.ImageURL != nil {
		b.set("image_url", nullIfEmpty(*upd.ImageURL))
	}
	if upd.Tags != nil {
		tags, err := encodeTags(*upd.Tags)
		if err != nil {
			return nil, err
		}
		b.set("tags", tags)
	}
	if !b.empty() {
		query, args := b.query("posts", id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if err := affected(res, content.ErrNotFound); err != nil {
			return nil, err
		}
	}
	return s.GetPost(ctx, id)
}

// DeletePost removes the post; comments go with it through the foreign key.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from posts where id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res, content.ErrNotFound)
}
