package audit

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/ids"
	"inkwell.org/internal/obs"
)

// Policy decides what an append failure does to the caller.
type Policy int

const (
	// FailOpen logs and counts append failures; callers never see them.
	FailOpen Policy = iota
	// FailClosed appends synchronously and returns an AuditWrite error.
	FailClosed
)

// ParsePolicy maps "fail_open" and "fail_closed".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail_open":
		return FailOpen, nil
	case "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("audit: unknown policy %q", s)
}

const (
	lockStripes   = 256
	appendTimeout = 5 * time.Second
)

type job struct {
	ctx   context.Context
	entry Entry
}

// Recorder appends entries asynchronously. Entries for one entity are
// routed to one worker so they are appended in the order recorded.
type Recorder struct {
	store   Store
	policy  Policy
	metrics *obs.Metrics
	onError func(Entry, error)
	now     func() time.Time

	workers   int
	queueSize int
	shards    []chan job
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	locks [lockStripes]sync.Mutex
}

// RecorderOption configures Recorder.
type RecorderOption func(*Recorder)

func WithPolicy(p Policy) RecorderOption {
	return func(r *Recorder) { r.policy = p }
}

func WithWorkers(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithMetrics(m *obs.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithOnError registers a hook called for every failed append.
func WithOnError(fn func(Entry, error)) RecorderOption {
	return func(r *Recorder) { r.onError = fn }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder starts the worker shards. Call Close to drain them.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		policy:    FailOpen,
		now:       time.Now,
		workers:   4,
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.shards = make([]chan job, r.workers)
	for i := range r.shards {
		ch := make(chan job, r.queueSize)
		r.shards[i] = ch
		r.wg.Add(1)
		go r.run(ch)
	}
	return r
}

// Record stamps e and queues it. It waits only for the enqueue. Under
// FailClosed the append happens before Record returns.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	r.stamp(ctx, &e)
	return r.submit(ctx, e)
}

// Mutate runs fn under a per-entity lock and records its Change before the
// lock is released, so audit order equals commit order for the entity. An
// error from fn is returned unchanged and nothing is recorded.
func (r *Recorder) Mutate(ctx context.Context, entityType, entityID string, fn func(ctx context.Context) (Change, error)) error {
	l := &r.locks[stripe(entityType, entityID)%lockStripes]
	l.Lock()
	defer l.Unlock()

	change, err := fn(ctx)
	if err != nil {
		return err
	}
	if change.Skip {
		return nil
	}
	e := Entry{
		Action:     change.Action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValues:  change.OldValues,
		NewValues:  change.NewValues,
		ActorID:    change.ActorID,
	}
	r.stamp(ctx, &e)
	return r.submit(ctx, e)
}

func (r *Recorder) stamp(ctx context.Context, e *Entry) {
	now := r.now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = ids.NewAt(now)
	}
	meta := metaFromContext(ctx)
	if e.RequestID == "" {
		e.RequestID = meta.RequestID
	}
	if e.IPAddress == "" {
		e.IPAddress = meta.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
}

func (r *Recorder) submit(ctx context.Context, e Entry) error {
	if r.policy == FailClosed {
		if err := r.append(ctx, e); err != nil {
			return apierr.AuditWrite(err)
		}
		return nil
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		_ = r.append(ctx, e)
		return nil
	}
	defer r.mu.RUnlock()
	ch := r.shards[stripe(e.EntityType, e.EntityID)%uint32(len(r.shards))]
	j := job{ctx: context.WithoutCancel(ctx), entry: e}
	select {
	case ch <- j:
		r.metrics.AuditQueueDelta(1)
		return nil
	default:
	}
	select {
	case ch <- j:
		r.metrics.AuditQueueDelta(1)
	case <-ctx.Done():
		r.fail(e, fmt.Errorf("enqueue: %w", ctx.Err()))
	}
	return nil
}

func (r *Recorder) run(ch chan job) {
	defer r.wg.Done()
	for j := range ch {
		r.metrics.AuditQueueDelta(-1)
		_ = r.append(j.ctx, j.entry)
	}
}

func (r *Recorder) append(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		r.fail(e, err)
		return err
	}
	r.metrics.AuditAppended()
	return nil
}

func (r *Recorder) fail(e Entry, err error) {
	r.metrics.AuditWriteFailed()
	slog.Error("audit append failed",
		slog.String("action", e.Action),
		slog.String("entity_type", e.EntityType),
		slog.String("entity_id", e.EntityID),
		slog.String("error", err.Error()),
	)
	if r.onError != nil {
		r.onError(e, err)
	}
}

// Close stops accepting queued work and waits for the shards to drain or
// ctx to end. Entries recorded after Close are appended synchronously.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: drain: %w", ctx.Err())
	}
}

func stripe(entityType, entityID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(entityID))
	return h.Sum32()
}
