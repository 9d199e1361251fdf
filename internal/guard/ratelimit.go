package guard

import (
	"context"
	"fmt"
	"time"

	"inkwell.org/internal/counter"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// FixedWindow counts requests per key in wall-clock aligned windows of
// floor(now/window)*window. Windows do not slide.
type FixedWindow struct {
	store  counter.Store
	prefix string
	window time.Duration
	max    int
	now    func() time.Time
}

func NewFixedWindow(store counter.Store, prefix string, window time.Duration, max int, opts ...Option) *FixedWindow {
	o := applyOptions(opts)
	return &FixedWindow{
		store:  store,
		prefix: prefix,
		window: window,
		max:    max,
		now:    o.now,
	}
}

// Allow counts one request for key. On a store error the decision allows
// the request and the error is returned for logging.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := f.now()
	w := f.window.Milliseconds()
	startMs := now.UnixMilli() / w * w
	start := time.UnixMilli(startMs)
	end := start.Add(f.window)

	count, err := f.store.IncrWithTTL(ctx, fmt.Sprintf("%s:%s:%d", f.prefix, key, start.Unix()), f.window)
	if err != nil {
		return Decision{Allowed: true, Limit: f.max, ResetAt: end}, err
	}
	d := Decision{
		Allowed: count <= int64(f.max),
		Count:   count,
		Limit:   f.max,
		ResetAt: end,
	}
	if rem := int64(f.max) - count; rem > 0 {
		d.Remaining = int(rem)
	}
	if !d.Allowed {
		d.RetryAfter = end.Sub(now)
	}
	return d, nil
}
