package guard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"inkwell.org/internal/counter"
)

// Outcome classifies a finished authentication attempt.
type Outcome int

const (
	OutcomeNeutral Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// Policy configures one endpoint class of the lockout.
type Policy struct {
	Name        string
	FreeRetries int
	MinWait     time.Duration
	MaxWait     time.Duration
	Lifetime    time.Duration
	// FailClosed rejects attempts when the counter store is unreachable.
	FailClosed bool
	// Classify maps the handler's status code to an outcome.
	Classify func(status int) Outcome
}

// LoginPolicy treats 401 as a failed attempt.
func LoginPolicy() Policy {
	return Policy{
		Name:        "login",
		FreeRetries: 5,
		MinWait:     5 * time.Minute,
		MaxWait:     time.Hour,
		Lifetime:    24 * time.Hour,
		FailClosed:  true,
		Classify: func(status int) Outcome {
			switch {
			case status == http.StatusUnauthorized:
				return OutcomeFailure
			case status >= 200 && status < 300:
				return OutcomeSuccess
			}
			return OutcomeNeutral
		},
	}
}

// RegisterPolicy treats any 4xx except 429 as a failed attempt.
func RegisterPolicy() Policy {
	return Policy{
		Name:        "register",
		FreeRetries: 3,
		MinWait:     10 * time.Minute,
		MaxWait:     2 * time.Hour,
		Lifetime:    24 * time.Hour,
		Classify: func(status int) Outcome {
			switch {
			case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
				return OutcomeFailure
			case status >= 200 && status < 300:
				return OutcomeSuccess
			}
			return OutcomeNeutral
		},
	}
}

// LockState is the result of Check.
type LockState struct {
	Locked     bool
	RetryAfter time.Duration
}

// FailResult is the result of Fail. Locked is true only for the single
// caller whose increment reached the threshold.
type FailResult struct {
	Count       int64
	Locked      bool
	RetryAfter  time.Duration
	FirstFailAt time.Time
}

// Reservation is one admitted attempt. Slot is zero when the attempt was
// admitted without a slot after a store failure under a fail-open policy.
type Reservation struct {
	Key  string
	Slot int64
}

func (r Reservation) Held() bool { return r.Slot > 0 }

// Lockout is the brute-force state machine for one policy. State lives in
// five counter keys per client key: attempts, fails, first, lock and
// cycles. attempts counts failed plus in-flight attempts and gates
// admission; fails counts settled failures and drives the lock.
type Lockout struct {
	store  counter.Store
	policy Policy
	now    func() time.Time
}

func NewLockout(store counter.Store, policy Policy, opts ...Option) *Lockout {
	o := applyOptions(opts)
	return &Lockout{store: store, policy: policy, now: o.now}
}

func (l *Lockout) Policy() Policy { return l.policy }

// The client part is a hash tag so a Redis cluster keeps one client's keys
// in one slot for the scripts.
func (l *Lockout) key(client, field string) string {
	return fmt.Sprintf("bf:%s:{%s}:%s", l.policy.Name, client, field)
}

// Check reports whether key is locked. An elapsed lock resets the counters
// in one compare-and-delete, so a lock applied meanwhile survives.
func (l *Lockout) Check(ctx context.Context, key string) (LockState, error) {
	lockKey := l.key(key, "lock")
	untilMs, ok, err := l.store.Get(ctx, lockKey)
	if err != nil {
		return LockState{}, err
	}
	if !ok {
		return LockState{}, nil
	}
	if state := l.lockState(untilMs); state.Locked {
		return state, nil
	}
	reset, err := l.store.CompareAndDelete(ctx, lockKey, untilMs,
		l.key(key, "attempts"), l.key(key, "fails"), l.key(key, "first"))
	if err != nil || reset {
		return LockState{}, err
	}
	// Someone else reset it or locked again.
	untilMs, ok, err = l.store.Get(ctx, lockKey)
	if err != nil || !ok {
		return LockState{}, err
	}
	return l.lockState(untilMs), nil
}

func (l *Lockout) lockState(untilMs int64) LockState {
	now := l.now()
	until := time.UnixMilli(untilMs)
	if now.Before(until) {
		return LockState{Locked: true, RetryAfter: until.Sub(now)}
	}
	return LockState{}
}

// Reserve admits one attempt for key. The slot comes from an atomic
// increment, so with FreeRetries-1 failures on record only one of any
// number of concurrent attempts gets through. Rejected attempts give
// their slot back at once.
func (l *Lockout) Reserve(ctx context.Context, key string) (Reservation, LockState, error) {
	state, err := l.Check(ctx, key)
	if err != nil || state.Locked {
		return Reservation{}, state, err
	}
	attempts := l.key(key, "attempts")
	slot, err := l.store.IncrWithTTL(ctx, attempts, l.policy.Lifetime)
	if err != nil {
		return Reservation{}, LockState{}, err
	}
	if slot <= int64(l.policy.FreeRetries) {
		return Reservation{Key: key, Slot: slot}, LockState{}, nil
	}
	if _, err := l.store.Decr(ctx, attempts); err != nil {
		return Reservation{}, LockState{}, err
	}
	// Either a lock landed after Check or the remaining slots are in flight.
	if state, err := l.Check(ctx, key); err != nil || state.Locked {
		return Reservation{}, state, err
	}
	return Reservation{}, LockState{Locked: true, RetryAfter: l.policy.MinWait}, nil
}

// Release returns a held slot for an attempt that neither failed nor
// succeeded.
func (l *Lockout) Release(ctx context.Context, res Reservation) error {
	if !res.Held() {
		return nil
	}
	_, err := l.store.Decr(ctx, l.key(res.Key, "attempts"))
	return err
}

// Fail records one failed attempt. A held slot stays consumed.
func (l *Lockout) Fail(ctx context.Context, key string) (FailResult, error) {
	now := l.now()
	count, err := l.store.IncrWithTTL(ctx, l.key(key, "fails"), l.policy.Lifetime)
	if err != nil {
		return FailResult{}, err
	}
	res := FailResult{Count: count}
	if count == 1 {
		res.FirstFailAt = now
		if err := l.store.SetWithTTL(ctx, l.key(key, "first"), now.UnixMilli(), l.policy.Lifetime); err != nil {
			return res, err
		}
	}
	if count != int64(l.policy.FreeRetries) {
		return res, nil
	}

	if res.FirstFailAt.IsZero() {
		if ms, ok, err := l.store.Get(ctx, l.key(key, "first")); err == nil && ok {
			res.FirstFailAt = time.UnixMilli(ms)
		}
	}
	cycle, err := l.store.IncrWithTTL(ctx, l.key(key, "cycles"), l.policy.Lifetime)
	if err != nil {
		return res, err
	}
	wait := l.waitFor(cycle)
	ttl := l.policy.Lifetime
	if wait > ttl {
		ttl = wait
	}
	if err := l.store.SetWithTTL(ctx, l.key(key, "lock"), now.Add(wait).UnixMilli(), ttl); err != nil {
		return res, err
	}
	res.Locked = true
	res.RetryAfter = wait
	return res, nil
}

// Succeed clears the counters and escalation history unless key is locked.
func (l *Lockout) Succeed(ctx context.Context, key string) error {
	state, err := l.Check(ctx, key)
	if err != nil {
		return err
	}
	if state.Locked {
		return nil
	}
	// An elapsed lock was already reset by Check; a fresh one must stay.
	return l.store.Delete(ctx,
		l.key(key, "attempts"), l.key(key, "fails"), l.key(key, "first"), l.key(key, "cycles"))
}

// Failures returns the current failure count.
func (l *Lockout) Failures(ctx context.Context, key string) (int64, error) {
	v, _, err := l.store.Get(ctx, l.key(key, "fails"))
	return v, err
}

// FirstFailure returns when the current failure run started.
func (l *Lockout) FirstFailure(ctx context.Context, key string) (time.Time, bool, error) {
	ms, ok, err := l.store.Get(ctx, l.key(key, "first"))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// waitFor doubles MinWait per lock cycle up to MaxWait.
func (l *Lockout) waitFor(cycle int64) time.Duration {
	wait := l.policy.MinWait
	for i := int64(1); i < cycle; i++ {
		wait *= 2
		if wait >= l.policy.MaxWait || wait <= 0 {
			return l.policy.MaxWait
		}
	}
	if wait > l.policy.MaxWait {
		return l.policy.MaxWait
	}
	return wait
}
