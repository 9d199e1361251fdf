package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
	lastMs    uint64
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose sort position follows t. Identifiers
// are strictly increasing within the process: a t earlier than the last
// one issued is treated as the last one.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	ms := ulid.Timestamp(t)
	if ms < lastMs {
		ms = lastMs
	}
	lastMs = ms
	return ulid.MustNew(ms, entropy).String()
}

// Valid reports whether s parses as an identifier produced by this package.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
