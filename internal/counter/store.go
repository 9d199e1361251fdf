// Package counter provides shared integer counters with expiry. Every
// guard mechanism keeps its state here so several API replicas can share one
// backend.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can apply their
// fail-open or fail-closed policy without inspecting driver errors.
var ErrUnavailable = errors.New("counter: store unavailable")

// Store is an atomic counter backend.
type Store interface {
	// IncrWithTTL atomically increments key and returns the new value. The
	// TTL is applied only when the increment creates the key.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)
	// SetWithTTL overwrites key. A zero TTL keeps the key until deleted.
	SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Decr decrements an existing key and removes it once it reaches zero.
	// A missing key is left missing and reports zero.
	Decr(ctx context.Context, key string) (int64, error)
	// CompareAndDelete removes guard and keys together, but only while guard
	// still holds want.
	CompareAndDelete(ctx context.Context, guard string, want int64, keys ...string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
