package audit

import (
	"context"
	"sort"
	"sync"
)

var (
	_ Store  = (*MemoryStore)(nil)
	_ Reader = (*MemoryStore)(nil)
)

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Entry, int, error) {
	f = f.Normalize()
	s.mu.RLock()
	var matched []Entry
	for _, e := range s.entries {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if f.Offset >= total {
		return []Entry{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

// All returns entries in append order.
func (s *MemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
