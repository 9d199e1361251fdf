package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/obs"
)

type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) Append(context.Context, Entry) error {
	s.calls.Add(1)
	return errors.New("insert into audit_logs: connection refused")
}

func closeRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMutateFailOpenKeepsMutation(t *testing.T) {
	store := &failingStore{}
	metrics := obs.NewMetrics(false)
	var hookCalls atomic.Int32
	r := NewRecorder(store,
		WithMetrics(metrics),
		WithOnError(func(Entry, error) { hookCalls.Add(1) }),
	)

	committed := false
	err := r.Mutate(context.Background(), "Post", "p1", func(context.Context) (Change, error) {
		committed = true
		return Change{Action: "POST_CREATED", ActorID: "u1"}, nil
	})
	if err != nil {
		t.Fatalf("fail-open must not surface audit errors, got %v", err)
	}
	closeRecorder(t, r)

	if !committed {
		t.Fatal("mutation did not run")
	}
	if store.calls.Load() != 1 || hookCalls.Load() != 1 {
		t.Fatalf("expected one failed append and one hook call, got %d/%d", store.calls.Load(), hookCalls.Load())
	}
	if n, _ := testutil.GatherAndCount(metrics.Registry(), "inkwell_audit_write_failures_total"); n != 1 {
		t.Fatalf("expected failure metric, got %d series", n)
	}
}

func TestMutateFailClosedReturnsAuditWrite(t *testing.T) {
	r := NewRecorder(&failingStore{}, WithPolicy(FailClosed))
	defer closeRecorder(t, r)

	committed := false
	err := r.Mutate(context.Background(), "Post", "p1", func(context.Context) (Change, error) {
		committed = true
		return Change{Action: "POST_UPDATED"}, nil
	})
	if apierr.KindOf(err) != apierr.KindAuditWrite {
		t.Fatalf("expected audit write error, got %v", err)
	}
	if !committed {
		t.Fatal("mutation must still be committed")
	}
}

func TestMutateErrorRecordsNothing(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store)
	boom := errors.New("not found")
	err := r.Mutate(context.Background(), "Post", "p1", func(context.Context) (Change, error) {
		return Change{}, boom
	})
	closeRecorder(t, r)
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if len(store.All()) != 0 {
		t.Fatal("failed mutation must not be audited")
	}
}

func TestMutateOrderMatchesCommitOrder(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, WithWorkers(4), WithQueueSize(8))

	const writers = 64
	var (
		wg      sync.WaitGroup
		version int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Mutate(context.Background(), "Post", "hot", func(context.Context) (Change, error) {
				version++
				return Change{
					Action:    "POST_UPDATED",
					NewValues: map[string]any{"version": version},
				}, nil
			})
		}()
	}
	// Unrelated entities share the shards.
	for i := 0; i < writers; i++ {
		_ = r.Record(context.Background(), Entry{Action: "COMMENT_CREATED", EntityType: "Comment", EntityID: "c"})
	}
	wg.Wait()
	closeRecorder(t, r)

	var (
		last   int
		lastID string
	)
	for _, e := range store.All() {
		if e.EntityID != "hot" {
			continue
		}
		v := e.NewValues["version"].(int)
		if v != last+1 {
			t.Fatalf("audit order diverged from commit order: %d after %d", v, last)
		}
		if e.ID <= lastID {
			t.Fatalf("ids not increasing: %s after %s", e.ID, lastID)
		}
		last, lastID = v, e.ID
	}
	if last != writers {
		t.Fatalf("expected %d entries, got %d", writers, last)
	}
}

func TestRecordCopiesRequestMeta(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(store, WithClock(func() time.Time { return fixed }))
	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.9", UserAgent: "curl/8"})

	if err := r.Record(ctx, Entry{Action: "USER_LOGIN", EntityType: "User", EntityID: "u1", ActorID: "u1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	closeRecorder(t, r)

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("expected one entry, got %d", len(all))
	}
	e := all[0]
	if e.RequestID != "req-1" || e.IPAddress != "10.0.0.9" || e.UserAgent != "curl/8" {
		t.Fatalf("request meta missing: %+v", e)
	}
	if !e.Timestamp.Equal(fixed) || e.ID == "" {
		t.Fatalf("entry not stamped: %+v", e)
	}
}

func TestRecordAfterCloseAppendsSynchronously(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store)
	closeRecorder(t, r)
	_ = r.Record(context.Background(), Entry{Action: "USER_LOGOUT", EntityType: "User", EntityID: "u"})
	if len(store.All()) != 1 {
		t.Fatal("expected late entry to be appended")
	}
}

func TestPick(t *testing.T) {
	got := Pick(map[string]any{"title": "t", "content": "c", "secret": "s"}, "title", "content", "missing")
	if len(got) != 2 || got["title"] != "t" || got["content"] != "c" {
		t.Fatalf("unexpected pick: %v", got)
	}
	if Pick(nil, "x") != nil {
		t.Fatal("nil in, nil out")
	}
}

func TestMemoryQueryNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"01A", "01B", "01C"} {
		_ = store.Append(ctx, Entry{ID: id, EntityType: "Post", EntityID: "p", ActorID: "u"})
	}
	_ = store.Append(ctx, Entry{ID: "01D", EntityType: "User", EntityID: "u", ActorID: "x"})

	got, total, err := store.Query(ctx, Filter{EntityType: "Post", EntityID: "p", Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 3 || len(got) != 2 || got[0].ID != "01C" || got[1].ID != "01B" {
		t.Fatalf("unexpected page: total=%d %+v", total, got)
	}
	byUser, total, _ := store.Query(ctx, Filter{ActorID: "x"})
	if total != 1 || byUser[0].ID != "01D" {
		t.Fatalf("unexpected user filter result: %+v", byUser)
	}
}
