package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/content"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(db), mock
}

var userCols = []string{"id", "email", "username", "first_name", "last_name", "role", "is_active", "password_hash", "created_at", "updated_at"}

func TestFindIdentityByID(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("select id, email, username").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@example.com", "alpha", nil, "Lovelace", "ADMIN", true, "hash", now, now))

	ident, err := store.FindIdentityByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FindIdentityByID: %v", err)
	}
	if ident.Role != auth.RoleAdmin || !ident.IsActive || ident.FirstName != "" || ident.LastName != "Lovelace" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestFindIdentityErrors(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select id, email, username").WithArgs("missing").WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery("select id, email, username").WithArgs("slow").WillReturnError(context.DeadlineExceeded)

	if _, err := store.FindIdentityByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := store.FindIdentityByID(context.Background(), "slow")
	var tmp interface{ Temporary() bool }
	if !errors.As(err, &tmp) || !tmp.Temporary() {
		t.Fatalf("timeout should be marked temporary, got %v", err)
	}
}

func TestCreateIdentityConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "a@example.com", "alpha", nil, nil, "READER", true, "hash").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreateIdentity(context.Background(), &auth.Identity{
		Email: "a@example.com", Username: "alpha", Role: auth.RoleReader, IsActive: true, PasswordHash: "hash",
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateIdentityBuildsPartialUpdate(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	role := auth.RoleEditor
	active := false
	mock.ExpectExec(regexp.QuoteMeta("update users set role = $1, is_active = $2, updated_at = now() where id = $3")).
		WithArgs("EDITOR", false, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select id, email, username").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@example.com", "alpha", nil, nil, "EDITOR", false, "hash", now, now))

	ident, err := store.UpdateIdentity(context.Background(), "u1", auth.IdentityUpdate{Role: &role, IsActive: &active})
	if err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	if ident.Role != auth.RoleEditor || ident.IsActive {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestDeleteIdentityNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("delete from users").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteIdentity(context.Background(), "u1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostRoundTrip(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("insert into posts").
		WithArgs("p1", "Title", "Body", nil, "DRAFT", nil, []byte(`["go","db"]`), "u1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("select id, title, content").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "content", "excerpt", "status", "image_url", "tags", "author_id", "created_at", "updated_at"}).
			AddRow("p1", "Title", "Body", nil, "DRAFT", nil, []byte(`["go","db"]`), "u1", now, now))

	p := &content.Post{ID: "p1", Title: "Title", Content: "Body", Status: content.StatusDraft, Tags: []string{"go", "db"}, AuthorID: "u1"}
	if err := store.CreatePost(context.Background(), p); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	got, err := store.GetPost(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "db" || got.Status != content.StatusDraft {
		t.Fatalf("unexpected post: %+v", got)
	}
}

func TestListCommentsUnknownPost(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select count").WithArgs("p404").WillReturnRows(sqlmock.NewRows([]string{"count"}))
	if _, _, err := store.ListComments(context.Background(), "p404", content.ListOptions{Limit: 20}); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateReplyToOtherPost(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select post_id from comments").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"post_id"}).AddRow("other"))
	err := store.CreateComment(context.Background(), &content.Comment{PostID: "p1", ParentID: "c1", AuthorID: "u1", Content: "hi"})
	if !errors.Is(err, content.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	store, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into audit_logs").
		WithArgs("01A", "POST_CREATED", "Post", "p1", nil, []byte(`{"title":"T"}`), "u1", "10.0.0.1", nil, nil, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from audit_logs where entity_type = $1 and entity_id = $2")).
		WithArgs("Post", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("from audit_logs where entity_type").
		WithArgs("Post", "p1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "entity_type", "entity_id", "old_values", "new_values", "user_id", "ip_address", "user_agent", "request_id", "created_at"}).
			AddRow("01A", "POST_CREATED", "Post", "p1", nil, []byte(`{"title":"T"}`), "u1", "10.0.0.1", nil, nil, ts))

	as := store.Audit()
	err := as.Append(context.Background(), audit.Entry{
		ID: "01A", Action: "POST_CREATED", EntityType: "Post", EntityID: "p1",
		NewValues: map[string]any{"title": "T"}, ActorID: "u1", IPAddress: "10.0.0.1", Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, total, err := as.Query(context.Background(), audit.Filter{EntityType: "Post", EntityID: "p1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].NewValues["title"] != "T" || entries[0].OldValues != nil {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
