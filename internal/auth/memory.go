package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"inkwell.org/internal/ids"
)

var _ UserStore = (*MemoryStore)(nil)

// MemoryStore keeps accounts in process. Used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Identity
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Identity), now: time.Now}
}

func (s *MemoryStore) FindIdentityByID(_ context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *MemoryStore) FindIdentityByEmail(_ context.Context, email string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.byID {
		if ident.Email == email {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateIdentity(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken(identity.Email, identity.Username, "") {
		return ErrConflict
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	now := s.now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	cp := *identity
	s.byID[identity.ID] = &cp
	return nil
}

func (s *MemoryStore) ListIdentities(_ context.Context, limit, offset int) ([]Identity, int, error) {
	s.mu.RLock()
	all := make([]Identity, 0, len(s.byID))
	for _, ident := range s.byID {
		all = append(all, *ident)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return []Identity{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) UpdateIdentity(_ context.Context, id string, upd IdentityUpdate) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Username != nil && s.taken("", *upd.Username, id) {
		return nil, ErrConflict
	}
	next := *ident
	if upd.Username != nil {
		next.Username = *upd.Username
	}
	if upd.FirstName != nil {
		next.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		next.LastName = *upd.LastName
	}
	if upd.Role != nil {
		next.Role = *upd.Role
	}
	if upd.IsActive != nil {
		next.IsActive = *upd.IsActive
	}
	next.UpdatedAt = s.now().UTC()
	s.byID[id] = &next
	cp := next
	return &cp, nil
}

func (s *MemoryStore) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// taken must be called with s.mu held.
func (s *MemoryStore) taken(email, username, exceptID string) bool {
	for id, ident := range s.byID {
		if id == exceptID {
			continue
		}
		if email != "" && ident.Email == email {
			return true
		}
		if username != "" && strings.EqualFold(ident.Username, username) {
			return true
		}
	}
	return false
}
