// Package migrate applies the embedded schema migrations with golang-migrate
// and runs the seed files once each.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	gomigrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var (
	ErrNoMigrations = errors.New("migrate: no migration files")
	ErrNoneApplied  = errors.New("migrate: no migrations applied")
	ErrBadDSN       = errors.New("migrate: dsn must be a postgres:// url")
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Manager runs schema migrations against dsn and seeds through db.
type Manager struct {
	db              *sql.DB
	dsn             string
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	logger          *slog.Logger
}

type Option func(*Manager)

// WithMigrationsTable names golang-migrate's version table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) { m.migrationsTable = name }
}

// WithSeedsTable names the table recording applied seed files.
func WithSeedsTable(name string) Option {
	return func(m *Manager) { m.seedsTable = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager validates table names up front. migrations or seeds may be nil.
func NewManager(db *sql.DB, dsn string, migrations, seeds fs.FS, opts ...Option) (*Manager, error) {
	m := &Manager{
		db:              db,
		dsn:             dsn,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: "schema_migrations",
		seedsTable:      "schema_seeds",
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, name := range []string{m.migrationsTable, m.seedsTable} {
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("migrate: invalid table name %q", name)
		}
	}
	return m, nil
}

// Status describes the schema version and what is left to do.
type Status struct {
	Version uint
	Dirty   bool
	Pending []string
	Seeds   []string
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(ctx, func(mg *gomigrate.Migrate) error {
		if err := mg.Up(); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Down rolls back the latest applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(ctx, func(mg *gomigrate.Migrate) error {
		if _, _, err := mg.Version(); errors.Is(err, gomigrate.ErrNilVersion) {
			return ErrNoneApplied
		}
		if err := mg.Steps(-1); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// Force records version as applied and clears the dirty flag after a
// failed migration was repaired by hand.
func (m *Manager) Force(ctx context.Context, version int) error {
	return m.run(ctx, func(mg *gomigrate.Migrate) error {
		return mg.Force(version)
	})
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.run(ctx, func(mg *gomigrate.Migrate) error {
		v, dirty, err := mg.Version()
		if err != nil && !errors.Is(err, gomigrate.ErrNilVersion) {
			return err
		}
		st.Version, st.Dirty = v, dirty
		st.Pending, err = pending(m.migrations, v)
		return err
	})
	if err != nil {
		return st, err
	}
	st.Seeds, err = m.appliedSeeds(ctx)
	return st, err
}

// run opens a golang-migrate instance for one operation. Cancelling ctx
// stops it after the migration in progress.
func (m *Manager) run(ctx context.Context, fn func(*gomigrate.Migrate) error) error {
	if m.migrations == nil {
		return ErrNoMigrations
	}
	src, err := iofs.New(m.migrations, ".")
	if err != nil {
		return fmt.Errorf("migrate: source: %w", err)
	}
	target, err := databaseURL(m.dsn, m.migrationsTable)
	if err != nil {
		return err
	}
	mg, err := gomigrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("migrate: connect: %w", err)
	}
	mg.Log = logAdapter{m.logger}
	defer func() {
		if srcErr, dbErr := mg.Close(); srcErr != nil || dbErr != nil {
			m.logger.Warn("migrate close failed", slog.Any("source_error", srcErr), slog.Any("db_error", dbErr))
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mg.GracefulStop <- true
		case <-done:
		}
	}()
	return fn(mg)
}

// databaseURL points a postgres DSN at golang-migrate's pgx/v5 driver.
func databaseURL(dsn, table string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", ErrBadDSN
	}
	u.Scheme = "pgx5"
	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// pending lists up files whose version is above current, in order.
func pending(fsys fs.FS, current uint) ([]string, error) {
	ups, err := upFiles(fsys)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range ups {
		if f.version > current {
			out = append(out, f.name)
		}
	}
	return out, nil
}

type upFile struct {
	version uint
	name    string
}

func upFiles(fsys fs.FS) ([]upFile, error) {
	if fsys == nil {
		return nil, nil
	}
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	files := make([]upFile, 0, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migrate: %s has no version prefix", name)
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migrate: %s: bad version: %w", name, err)
		}
		files = append(files, upFile{version: uint(v), name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

type logAdapter struct{ l *slog.Logger }

func (a logAdapter) Printf(format string, v ...any) {
	a.l.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (a logAdapter) Verbose() bool { return false }
