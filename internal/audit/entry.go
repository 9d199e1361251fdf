// Package audit records an append-only trail of state-changing actions.
package audit

import (
	"context"
	"time"
)

// Entry is one audit record. Entries are never updated or deleted.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	ActorID    string         `json:"userId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
}

// Change describes what a mutation did. Returned by the function passed to
// Recorder.Mutate.
type Change struct {
	Action    string
	ActorID   string
	OldValues map[string]any
	NewValues map[string]any
	// Skip suppresses the entry, e.g. when nothing changed.
	Skip bool
}

// Filter selects entries. Results are newest first.
type Filter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps paging to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	return true
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader serves the admin query routes.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Pick returns a copy of values holding only fields. Missing fields are
// omitted.
func Pick(values map[string]any, fields ...string) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := values[f]; ok {
			out[f] = v
		}
	}
	return out
}
