package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLogStoreWritesLineThenDelegates(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mem := NewMemoryStore()
	store := NewLogStore(mem, logger)

	err := store.Append(context.Background(), Entry{
		ID:         "01J0000000000000000000000A",
		Action:     "POST_CREATED",
		EntityType: "Post",
		EntityID:   "p1",
		ActorID:    "user-42",
		RequestID:  "req-123",
		Timestamp:  time.Now(),
		NewValues:  map[string]any{"title": "Hello"},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["action"] != "POST_CREATED" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" || entry["user_id"] != "user-42" {
		t.Fatalf("request metadata missing: %v", entry)
	}
	if _, ok := entry["new_values"]; ok {
		t.Fatal("snapshots belong in the store, not the log line")
	}

	got, total, err := store.Query(context.Background(), Filter{EntityID: "p1"})
	if err != nil || total != 1 || got[0].Action != "POST_CREATED" {
		t.Fatalf("query through log store: %v %d %v", got, total, err)
	}
}

func TestLogStoreWithoutNextOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	store := NewLogStore(nil, slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := store.Append(context.Background(), Entry{Action: "USER_LOGIN"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a log line")
	}
	list, total, err := store.Query(context.Background(), Filter{})
	if err != nil || total != 0 || len(list) != 0 {
		t.Fatalf("expected empty result, got %v %d %v", list, total, err)
	}
}
