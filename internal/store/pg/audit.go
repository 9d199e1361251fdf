package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"inkwell.org/internal/audit"
)

var (
	_ audit.Store  = (*AuditStore)(nil)
	_ audit.Reader = (*AuditStore)(nil)
)

// AuditStore appends to and queries audit_logs.
type AuditStore struct {
	db *sql.DB
}

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// marshalValues keeps absent snapshots as SQL NULL rather than "null".
func marshalValues(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (id, action, entity_type, entity_id, old_values, new_values, user_id, ip_address, user_agent, request_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.Action, e.EntityType, e.EntityID, oldJSON, newJSON,
		nullIfEmpty(e.ActorID), nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), e.Timestamp)
	return err
}

func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("user_id", f.ActorID)
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, action, entity_type, entity_id, old_values, new_values, user_id, ip_address, user_agent, request_id, created_at
		from audit_logs%s
		order by id desc
		limit $%d offset $%d
	`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e                       audit.Entry
			oldRaw, newRaw          []byte
			actor, ip, agent, reqID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &oldRaw, &newRaw, &actor, &ip, &agent, &reqID, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		if len(oldRaw) > 0 {
			if err := json.Unmarshal(oldRaw, &e.OldValues); err != nil {
				return nil, 0, fmt.Errorf("decode old values: %w", err)
			}
		}
		if len(newRaw) > 0 {
			if err := json.Unmarshal(newRaw, &e.NewValues); err != nil {
				return nil, 0, fmt.Errorf("decode new values: %w", err)
			}
		}
		e.ActorID, e.IPAddress, e.UserAgent, e.RequestID = actor.String, ip.String, agent.String, reqID.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
