// Package content holds the blog resources whose mutations are audited:
// posts and their comments.
package content

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("content: not found")
	ErrConflict     = errors.New("content: conflict")
	ErrInvalidInput = errors.New("content: invalid input")
)

type PostStatus string

const (
	StatusDraft     PostStatus = "DRAFT"
	StatusPublished PostStatus = "PUBLISHED"
	StatusArchived  PostStatus = "ARCHIVED"
)

func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

type Post struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Excerpt   string     `json:"excerpt,omitempty"`
	Status    PostStatus `json:"status"`
	ImageURL  string     `json:"imageUrl,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	AuthorID  string     `json:"authorId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Snapshot returns the fields worth keeping in the audit trail.
func (p Post) Snapshot() map[string]any {
	return map[string]any{
		"title":    p.Title,
		"content":  p.Content,
		"excerpt":  p.Excerpt,
		"status":   string(p.Status),
		"imageUrl": p.ImageURL,
		"tags":     p.Tags,
		"authorId": p.AuthorID,
	}
}

// PostUpdate carries optional changes; nil fields are left untouched.
type PostUpdate struct {
	Title    *string     `json:"title"`
	Content  *string     `json:"content"`
	Excerpt  *string     `json:"excerpt"`
	Status   *PostStatus `json:"status"`
	ImageURL *string     `json:"imageUrl"`
	Tags     *[]string   `json:"tags"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	ParentID  string    `json:"parentId,omitempty"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Comment) Snapshot() map[string]any {
	return map[string]any{
		"postId":   c.PostID,
		"parentId": c.ParentID,
		"authorId": c.AuthorID,
		"content":  c.Content,
		"isActive": c.IsActive,
	}
}

// ListOptions pages list queries. A zero Status lists every status.
type ListOptions struct {
	Limit  int
	Offset int
	Status PostStatus
}

// Store persists posts and comments.
type Store interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	ListPosts(ctx context.Context, opts ListOptions) ([]Post, int, error)
	UpdatePost(ctx context.Context, id string, upd PostUpdate) (*Post, error)
	DeletePost(ctx context.Context, id string) error

	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, postID string, opts ListOptions) ([]Comment, int, error)
	UpdateComment(ctx context.Context, id, content string) (*Comment, error)
	DeleteComment(ctx context.Context, id string) error
}
