package obs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampler throttles noisy log lines, such as one line per rejected request
// during a flood. Suppressed lines are counted and reported on the next
// line that gets through.
type Sampler struct {
	limiter    *rate.Limiter
	logger     *slog.Logger
	suppressed atomic.Int64
}

// NewSampler allows perSecond lines with the given burst. A nil logger uses
// slog.Default at call time.
func NewSampler(logger *slog.Logger, perSecond float64, burst int) *Sampler {
	if burst <= 0 {
		burst = 1
	}
	return &Sampler{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// Log writes the line if the budget allows and reports whether it did.
func (s *Sampler) Log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) bool {
	if s == nil {
		return false
	}
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return false
	}
	if n := s.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, slog.Int64("suppressed", n))
	}
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
	return true
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (s *Sampler) Suppressed() int64 {
	if s == nil {
		return 0
	}
	return s.suppressed.Load()
}
