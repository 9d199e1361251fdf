package guard

import (
	"context"
	"time"

	"inkwell.org/internal/counter"
)

// SpeedLimiter slows clients down instead of rejecting them. The window is
// anchored at the first request of a key and expires as a whole.
type SpeedLimiter struct {
	store      counter.Store
	window     time.Duration
	delayAfter int64
	delay      time.Duration
	maxDelay   time.Duration
}

func NewSpeedLimiter(store counter.Store, window time.Duration, delayAfter int, delay, maxDelay time.Duration) *SpeedLimiter {
	return &SpeedLimiter{
		store:      store,
		window:     window,
		delayAfter: int64(delayAfter),
		delay:      delay,
		maxDelay:   maxDelay,
	}
}

// Delay counts one request for key and returns how long it must wait.
// Store errors yield no delay.
func (s *SpeedLimiter) Delay(ctx context.Context, key string) (time.Duration, error) {
	count, err := s.store.IncrWithTTL(ctx, "sl:"+key, s.window)
	if err != nil {
		return 0, err
	}
	return s.delayFor(count), nil
}

func (s *SpeedLimiter) delayFor(count int64) time.Duration {
	over := count - s.delayAfter
	if over <= 0 || s.delay <= 0 {
		return 0
	}
	if over >= int64(s.maxDelay/s.delay) {
		return s.maxDelay
	}
	return s.delay * time.Duration(over)
}

// Wait blocks for d or until ctx is done, in which case ctx.Err is returned.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
