package migrate

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock, fstest.MapFS) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	seeds := fstest.MapFS{
		"0001_a.sql": {Data: []byte("insert into a values ('x;y'); insert into a values ('z');")},
		"0002_b.sql": {Data: []byte("insert into b values (1);")},
	}
	m, err := NewManager(db, "postgres://u:p@localhost/db", nil, seeds)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, mock, seeds
}

func TestSeedRecordsInsideTransaction(t *testing.T) {
	m, mock, _ := newMock(t)

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0001_a.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into a values \('x;y'\); insert into a values \('z'\);`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0002_b.sql").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := m.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedFailureLeavesNoRecord(t *testing.T) {
	m, mock, _ := newMock(t)
	boom := errors.New("relation \"a\" does not exist")

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0001_a.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into a").WillReturnError(boom)
	mock.ExpectRollback()

	err := m.Seed(context.Background())
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "0001_a.sql") {
		t.Fatalf("expected wrapped seed error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewManagerRejectsBadTableNames(t *testing.T) {
	if _, err := NewManager(nil, "", nil, nil, WithSeedsTable("seeds; drop table users")); err == nil {
		t.Fatal("expected invalid table name error")
	}
	if _, err := NewManager(nil, "", nil, nil, WithMigrationsTable("Versions")); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestDatabaseURL(t *testing.T) {
	got, err := databaseURL("postgres://u:p@db:5432/inkwell?sslmode=disable", "schema_migrations")
	if err != nil {
		t.Fatalf("databaseURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %s: %v", got, err)
	}
	if u.Scheme != "pgx5" || u.Host != "db:5432" || u.Path != "/inkwell" {
		t.Fatalf("unexpected url %s", got)
	}
	if q := u.Query(); q.Get("sslmode") != "disable" || q.Get("x-migrations-table") != "schema_migrations" {
		t.Fatalf("unexpected query %s", u.RawQuery)
	}
	if _, err := databaseURL("host=db user=u dbname=inkwell", "schema_migrations"); !errors.Is(err, ErrBadDSN) {
		t.Fatalf("expected ErrBadDSN, got %v", err)
	}
}

func TestPendingFollowsVersionOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_later.up.sql": {},
		"0002_b.up.sql":     {},
		"0001_a.up.sql":     {},
		"0001_a.down.sql":   {},
	}
	got, err := pending(fsys, 1)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if strings.Join(got, ",") != "0002_b.up.sql,0010_later.up.sql" {
		t.Fatalf("unexpected pending list %v", got)
	}
	if _, err := pending(fstest.MapFS{"init.up.sql": {}}, 0); err == nil {
		t.Fatal("expected error for a file without a version")
	}
}

func TestUpNeedsMigrations(t *testing.T) {
	m, _, _ := newMock(t)
	if err := m.Up(context.Background()); !errors.Is(err, ErrNoMigrations) {
		t.Fatalf("expected ErrNoMigrations, got %v", err)
	}
}

func TestEmbeddedMigrationsPair(t *testing.T) {
	migrations, seeds := Embedded()
	ups, err := upFiles(migrations)
	if err != nil {
		t.Fatalf("upFiles: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i, up := range ups {
		if up.version != uint(i+1) {
			t.Fatalf("%s: expected version %d", up.name, i+1)
		}
		down := strings.TrimSuffix(up.name, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(migrations, down); err != nil {
			t.Fatalf("%s has no down migration", up.name)
		}
	}
	if _, err := fs.Stat(seeds, "0001_admin.sql"); err != nil {
		t.Fatalf("seed missing: %v", err)
	}
}
