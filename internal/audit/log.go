package audit

import (
	"context"
	"log/slog"
)

// LogStore writes every entry as a structured "audit" log line before
// handing it to next. A nil next makes the log the only sink.
type LogStore struct {
	next   Store
	logger *slog.Logger
}

func NewLogStore(next Store, logger *slog.Logger) *LogStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStore{next: next, logger: logger}
}

func (s *LogStore) Append(ctx context.Context, e Entry) error {
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("id", e.ID),
		slog.String("action", e.Action),
		slog.String("entity_type", e.EntityType),
		slog.String("entity_id", e.EntityID),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.ActorID != "" {
		attrs = append(attrs, slog.String("user_id", e.ActorID))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.IPAddress != "" {
		attrs = append(attrs, slog.String("ip", e.IPAddress))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	if s.next == nil {
		return nil
	}
	return s.next.Append(ctx, e)
}

// Query delegates to next when it can answer queries.
func (s *LogStore) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	if r, ok := s.next.(Reader); ok {
		return r.Query(ctx, f)
	}
	return []Entry{}, 0, nil
}
