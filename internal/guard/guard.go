// Package guard implements abuse protection: a fixed-window rate limiter,
// a progressive speed limiter and a brute-force lockout. All state lives in
// a counter.Store so replicas share it.
package guard

import (
	"context"
	"log/slog"
	"time"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/obs"
)

const (
	mechRate       = "rate"
	mechAuthRate   = "auth_rate"
	mechSpeed      = "speed"
	mechBruteForce = "bruteforce"
)

// Guard composes the three mechanisms and applies their failure policies.
type Guard struct {
	rate     *FixedWindow
	authRate *FixedWindow
	speed    *SpeedLimiter
	lockouts map[string]*Lockout

	metrics *obs.Metrics
	sampler *obs.Sampler
	wait    func(context.Context, time.Duration) error
}

// Config wires Guard. Nil mechanisms are skipped.
type Config struct {
	Rate     *FixedWindow
	AuthRate *FixedWindow
	Speed    *SpeedLimiter
	Lockouts []*Lockout
	Metrics  *obs.Metrics
	Sampler  *obs.Sampler
	// Wait replaces the delay sleep in tests.
	Wait func(context.Context, time.Duration) error
}

func New(cfg Config) *Guard {
	g := &Guard{
		rate:     cfg.Rate,
		authRate: cfg.AuthRate,
		speed:    cfg.Speed,
		lockouts: make(map[string]*Lockout, len(cfg.Lockouts)),
		metrics:  cfg.Metrics,
		sampler:  cfg.Sampler,
		wait:     cfg.Wait,
	}
	for _, l := range cfg.Lockouts {
		g.lockouts[l.policy.Name] = l
	}
	if g.wait == nil {
		g.wait = Wait
	}
	if g.sampler == nil {
		g.sampler = obs.NewSampler(nil, 5, 20)
	}
	return g
}

// Lockout returns the state machine for policy, or nil.
func (g *Guard) Lockout(policy string) *Lockout { return g.lockouts[policy] }

// AdmitRate applies the general rate limit. Store failures allow the request.
func (g *Guard) AdmitRate(ctx context.Context, key string) (Decision, error) {
	return g.admit(ctx, g.rate, mechRate, key)
}

// AdmitAuthRate applies the stricter limit on authentication endpoints.
func (g *Guard) AdmitAuthRate(ctx context.Context, key string) (Decision, error) {
	return g.admit(ctx, g.authRate, mechAuthRate, key)
}

func (g *Guard) admit(ctx context.Context, w *FixedWindow, mech, key string) (Decision, error) {
	if w == nil {
		return Decision{Allowed: true}, nil
	}
	d, err := w.Allow(ctx, key)
	if err != nil {
		g.storeError(ctx, mech, key, err)
		g.metrics.GuardDecision(mech, "error")
		return d, nil
	}
	if !d.Allowed {
		g.metrics.GuardDecision(mech, "reject")
		g.sampler.Log(ctx, slog.LevelWarn, "rate limit exceeded",
			slog.String("mechanism", mech),
			slog.String("key", key),
			slog.Int64("count", d.Count),
		)
		return d, apierr.TooManyRequests(d.RetryAfter)
	}
	g.metrics.GuardDecision(mech, "allow")
	return d, nil
}

// Slow delays the request according to the speed limiter. It returns a
// non-nil error only when ctx ends during the wait; the request must then be
// dropped.
func (g *Guard) Slow(ctx context.Context, key string) (time.Duration, error) {
	if g.speed == nil {
		return 0, nil
	}
	d, err := g.speed.Delay(ctx, key)
	if err != nil {
		g.storeError(ctx, mechSpeed, key, err)
		g.metrics.GuardDecision(mechSpeed, "error")
		return 0, nil
	}
	if d <= 0 {
		g.metrics.GuardDecision(mechSpeed, "allow")
		return 0, nil
	}
	g.metrics.GuardDecision(mechSpeed, "delay")
	if err := g.wait(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// Reserve admits one attempt under policy for key, or rejects it while the
// key is locked or its free attempts are all spent or in flight. On store
// errors the policy decides between rejecting and admitting unreserved.
func (g *Guard) Reserve(ctx context.Context, policy, key string) (Reservation, error) {
	l := g.lockouts[policy]
	if l == nil {
		return Reservation{}, nil
	}
	res, state, err := l.Reserve(ctx, key)
	if err != nil {
		g.storeError(ctx, mechBruteForce, key, err)
		if l.policy.FailClosed {
			g.metrics.GuardDecision(mechBruteForce, "reject")
			return Reservation{}, apierr.TooManyAttempts(l.policy.MinWait, err)
		}
		g.metrics.GuardDecision(mechBruteForce, "error")
		return Reservation{Key: key}, nil
	}
	if state.Locked {
		g.metrics.GuardDecision(mechBruteForce, "reject")
		g.sampler.Log(ctx, slog.LevelWarn, "brute force attempt rejected",
			slog.String("policy", policy),
			slog.String("key", key),
			slog.Duration("retry_after", state.RetryAfter),
		)
		return Reservation{}, apierr.TooManyAttempts(state.RetryAfter, nil)
	}
	g.metrics.GuardDecision(mechBruteForce, "allow")
	return res, nil
}

// Settle feeds the handler's status code back into the lockout. Failures
// keep the reserved slot, successes clear the key and neutral outcomes
// hand the slot back.
func (g *Guard) Settle(ctx context.Context, policy string, res Reservation, status int) {
	l := g.lockouts[policy]
	if l == nil || l.policy.Classify == nil || res.Key == "" {
		return
	}
	key := res.Key
	switch l.policy.Classify(status) {
	case OutcomeFailure:
		fr, err := l.Fail(ctx, key)
		if err != nil {
			g.storeError(ctx, mechBruteForce, key, err)
			return
		}
		if fr.Locked {
			g.metrics.Lockout(policy)
			slog.WarnContext(ctx, "brute force lock applied",
				slog.String("policy", policy),
				slog.String("key", key),
				slog.Int64("failures", fr.Count),
				slog.Time("first_failure_at", fr.FirstFailAt),
				slog.Duration("wait", fr.RetryAfter),
			)
		}
	case OutcomeSuccess:
		if err := l.Succeed(ctx, key); err != nil {
			g.storeError(ctx, mechBruteForce, key, err)
		}
	default:
		if err := l.Release(ctx, res); err != nil {
			g.storeError(ctx, mechBruteForce, key, err)
		}
	}
}

func (g *Guard) storeError(ctx context.Context, mech, key string, err error) {
	g.metrics.GuardStoreError(mech)
	g.sampler.Log(ctx, slog.LevelError, "guard counter store failure",
		slog.String("mechanism", mech),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
