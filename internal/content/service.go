package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inkwell.org/internal/apierr"
)

const (
	maxTitle     = 200
	maxContent   = 50000
	maxExcerpt   = 500
	maxTags      = 10
	maxComment   = 2000
	defaultLimit = 20
	maxListLimit = 100
)

// Service validates input and maps store errors to apierr kinds.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// PostInput is the create payload. ID may be preassigned by the caller.
type PostInput struct {
	ID       string     `json:"-"`
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Excerpt  string     `json:"excerpt"`
	Status   PostStatus `json:"status"`
	ImageURL string     `json:"imageUrl"`
	Tags     []string   `json:"tags"`
}

func (s *Service) CreatePost(ctx context.Context, authorID string, in PostInput) (*Post, error) {
	if in.Status == "" {
		in.Status = StatusDraft
	}
	details := map[string]any{}
	checkPostFields(details, &in.Title, &in.Content, &in.Excerpt, &in.Status, in.Tags)
	if len(details) > 0 {
		return nil, apierr.InvalidInput("Validation failed", details)
	}
	p := &Post{
		ID:       in.ID,
		Title:    in.Title,
		Content:  in.Content,
		Excerpt:  in.Excerpt,
		Status:   in.Status,
		ImageURL: strings.TrimSpace(in.ImageURL),
		Tags:     in.Tags,
		AuthorID: authorID,
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, storeErr("Post", err)
	}
	return p, nil
}

func (s *Service) GetPost(ctx context.Context, id string) (*Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, storeErr("Post", err)
	}
	return p, nil
}

func (s *Service) ListPosts(ctx context.Context, opts ListOptions) ([]Post, int, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, apierr.InvalidInput("Validation failed", map[string]any{"status": "Unsupported status"})
	}
	list, total, err := s.store.ListPosts(ctx, clamp(opts))
	if err != nil {
		return nil, 0, storeErr("Post", err)
	}
	return list, total, nil
}

// UpdatePost applies upd and returns the post before and after.
func (s *Service) UpdatePost(ctx context.Context, id string, upd PostUpdate) (before, after *Post, err error) {
	if upd == (PostUpdate{}) {
		return nil, nil, apierr.InvalidInput("No fields to update", nil)
	}
	details := map[string]any{}
	var tags []string
	if upd.Tags != nil {
		tags = *upd.Tags
	}
	checkPostFields(details, upd.Title, upd.Content, upd.Excerpt, upd.Status, tags)
	if len(details) > 0 {
		return nil, nil, apierr.InvalidInput("Validation failed", details)
	}
	before, err = s.store.GetPost(ctx, id)
	if err != nil {
		return nil, nil, storeErr("Post", err)
	}
	after, err = s.store.UpdatePost(ctx, id, upd)
	if err != nil {
		return nil, nil, storeErr("Post", err)
	}
	return before, after, nil
}

func (s *Service) DeletePost(ctx context.Context, id string) (*Post, error) {
	before, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, storeErr("Post", err)
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		return nil, storeErr("Post", err)
	}
	return before, nil
}

// CommentInput is the create payload. ID may be preassigned by the caller.
type CommentInput struct {
	ID       string `json:"-"`
	Content  string `json:"content"`
	ParentID string `json:"parentId"`
}

func (s *Service) CreateComment(ctx context.Context, postID, authorID string, in CommentInput) (*Comment, error) {
	content := strings.TrimSpace(in.Content)
	if msg := checkComment(content); msg != "" {
		return nil, apierr.InvalidInput("Validation failed", map[string]any{"content": msg})
	}
	c := &Comment{
		ID:       in.ID,
		PostID:   postID,
		ParentID: strings.TrimSpace(in.ParentID),
		AuthorID: authorID,
		Content:  content,
	}
	if err := s.store.CreateComment(ctx, c); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, apierr.InvalidInput("Validation failed", map[string]any{"parentId": "Parent comment not found on this post"})
		}
		return nil, storeErr("Post", err)
	}
	return c, nil
}

func (s *Service) GetComment(ctx context.Context, id string) (*Comment, error) {
	c, err := s.store.GetComment(ctx, id)
	if err != nil {
		return nil, storeErr("Comment", err)
	}
	return c, nil
}

func (s *Service) ListComments(ctx context.Context, postID string, opts ListOptions) ([]Comment, int, error) {
	list, total, err := s.store.ListComments(ctx, postID, clamp(opts))
	if err != nil {
		return nil, 0, storeErr("Post", err)
	}
	return list, total, nil
}

// UpdateComment replaces the comment text. Callers check ownership with
// GetComment first.
func (s *Service) UpdateComment(ctx context.Context, id, content string) (before, after *Comment, err error) {
	content = strings.TrimSpace(content)
	if msg := checkComment(content); msg != "" {
		return nil, nil, apierr.InvalidInput("Validation failed", map[string]any{"content": msg})
	}
	before, err = s.store.GetComment(ctx, id)
	if err != nil {
		return nil, nil, storeErr("Comment", err)
	}
	after, err = s.store.UpdateComment(ctx, id, content)
	if err != nil {
		return nil, nil, storeErr("Comment", err)
	}
	return before, after, nil
}

func (s *Service) DeleteComment(ctx context.Context, id string) (*Comment, error) {
	before, err := s.store.GetComment(ctx, id)
	if err != nil {
		return nil, storeErr("Comment", err)
	}
	if err := s.store.DeleteComment(ctx, id); err != nil {
		return nil, storeErr("Comment", err)
	}
	return before, nil
}

func checkPostFields(details map[string]any, title, body, excerpt *string, status *PostStatus, tags []string) {
	if title != nil {
		*title = strings.TrimSpace(*title)
		if n := len(*title); n == 0 || n > maxTitle {
			details["title"] = fmt.Sprintf("Title must be between 1 and %d characters", maxTitle)
		}
	}
	if body != nil {
		if n := len(strings.TrimSpace(*body)); n == 0 || n > maxContent {
			details["content"] = fmt.Sprintf("Content must be between 1 and %d characters", maxContent)
		}
	}
	if excerpt != nil {
		*excerpt = strings.TrimSpace(*excerpt)
		if len(*excerpt) > maxExcerpt {
			details["excerpt"] = fmt.Sprintf("Excerpt must be at most %d characters", maxExcerpt)
		}
	}
	if status != nil && !status.Valid() {
		details["status"] = "Status must be DRAFT, PUBLISHED or ARCHIVED"
	}
	if len(tags) > maxTags {
		details["tags"] = fmt.Sprintf("At most %d tags", maxTags)
	}
}

func checkComment(content string) string {
	if n := len(content); n == 0 || n > maxComment {
		return fmt.Sprintf("Comment must be between 1 and %d characters", maxComment)
	}
	return ""
}

func clamp(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

func storeErr(entity string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound(entity)
	case errors.Is(err, ErrConflict):
		return apierr.Conflict(entity + " already exists")
	case errors.Is(err, ErrInvalidInput):
		return apierr.InvalidInput(err.Error(), nil)
	default:
		return apierr.Internal(err)
	}
}
