package content

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkwell.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.RWMutex
	posts    map[string]*Post
	comments map[string]*Comment
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:    make(map[string]*Post),
		comments: make(map[string]*Comment),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreatePost(_ context.Context, p *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, ok := s.posts[p.ID]; ok {
		return ErrConflict
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	s.posts[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPost(_ context.Context, id string) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPosts(_ context.Context, opts ListOptions) ([]Post, int, error) {
	s.mu.RLock()
	var out []Post
	for _, p := range s.posts {
		if opts.Status == "" || p.Status == opts.Status {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	page, total := paginate(len(out), opts)
	return out[page.from:page.to], total, nil
}

func (s *MemoryStore) UpdatePost(_ context.Context, id string, upd PostUpdate) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *p
	applyPostUpdate(&next, upd)
	next.UpdatedAt = s.now().UTC()
	s.posts[id] = &next
	cp := next
	return &cp, nil
}

func (s *MemoryStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return ErrNotFound
	}
	delete(s.posts, id)
	for cid, c := range s.comments {
		if c.PostID == id {
			delete(s.comments, cid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateComment(_ context.Context, c *Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[c.PostID]; !ok {
		return ErrNotFound
	}
	if c.ParentID != "" {
		parent, ok := s.comments[c.ParentID]
		if !ok || parent.PostID != c.PostID {
			return ErrInvalidInput
		}
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.IsActive = true
	cp := *c
	s.comments[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetComment(_ context.Context, id string) (*Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListComments(_ context.Context, postID string, opts ListOptions) ([]Comment, int, error) {
	s.mu.RLock()
	if _, ok := s.posts[postID]; !ok {
		s.mu.RUnlock()
		return nil, 0, ErrNotFound
	}
	var out []Comment
	for _, c := range s.comments {
		if c.PostID == postID && c.IsActive {
			out = append(out, *c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	page, total := paginate(len(out), opts)
	return out[page.from:page.to], total, nil
}

func (s *MemoryStore) UpdateComment(_ context.Context, id, content string) (*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *c
	next.Content = content
	next.UpdatedAt = s.now().UTC()
	s.comments[id] = &next
	cp := next
	return &cp, nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

type window struct{ from, to int }

func paginate(n int, opts ListOptions) (window, int) {
	from := opts.Offset
	if from < 0 {
		from = 0
	}
	if from > n {
		from = n
	}
	to := n
	if opts.Limit > 0 && from+opts.Limit < n {
		to = from + opts.Limit
	}
	return window{from: from, to: to}, n
}

func applyPostUpdate(p *Post, upd PostUpdate) {
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	if upd.Excerpt != nil {
		p.Excerpt = *upd.Excerpt
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ImageURL != nil {
		p.ImageURL = *upd.ImageURL
	}
	if upd.Tags != nil {
		p.Tags = append([]string(nil), (*upd.Tags)...)
	}
}
