package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
)

// Seed applies each seed file at most once. The bookkeeping row is inserted
// in the same transaction as the file, so concurrent seeders serialise on
// the primary key and a failed file leaves no record.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	names, err := fs.Glob(m.seeds, "*.sql")
	if err != nil {
		return err
	}
	if err := m.ensureSeedsTable(ctx); err != nil {
		return err
	}
	for _, name := range names {
		applied, err := m.applySeed(ctx, name)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if applied {
			m.logger.Info("seed applied", slog.String("file", name))
		}
	}
	return nil
}

func (m *Manager) applySeed(ctx context.Context, name string) (bool, error) {
	body, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return false, err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`insert into %s (name) values ($1) on conflict (name) do nothing`, m.seedsTable), name)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (m *Manager) ensureSeedsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, m.seedsTable))
	return err
}

func (m *Manager) appliedSeeds(ctx context.Context) ([]string, error) {
	if m.db == nil {
		return nil, nil
	}
	if err := m.ensureSeedsTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
