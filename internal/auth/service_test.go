package auth

import (
	"context"
	"testing"
	"time"

	"inkwell.org/internal/apierr"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	tokens := newTestAuthenticator(t, store, WithTokenTTL(time.Hour))
	return NewService(store, tokens), store
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{
		Email:    "Ada@Example.com",
		Username: "ada",
		Password: "Passw0rd!",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.User.Role != RoleReader || sess.User.Email != "ada@example.com" || sess.Token == "" {
		t.Fatalf("unexpected session: %+v", sess.User)
	}

	login, err := svc.Login(ctx, "ada@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Tokens().Verify(ctx, login.Token); err != nil {
		t.Fatalf("Verify login token: %v", err)
	}
}

func TestRegisterConflictAndValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := RegisterInput{Email: "a@example.com", Username: "alpha", Password: "Passw0rd!"}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatalf("Register: %v", err)
	}
	in.Username = "beta"
	if _, err := svc.Register(ctx, in); apierr.KindOf(err) != apierr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Email: "bad", Username: "x", Password: "weak"})
	if e := apierr.From(err); e.Kind != apierr.KindInvalidInput || len(e.Details) != 3 {
		t.Fatalf("expected three validation details, got %v", err)
	}
}

func TestLoginFailuresShareOneShape(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "carol@example.com", RoleReader)

	_, unknown := svc.Login(ctx, "nobody@example.com", "Passw0rd!")
	_, wrong := svc.Login(ctx, "carol@example.com", "nope")
	a, b := apierr.From(unknown), apierr.From(wrong)
	if a.Kind != apierr.KindAuthentication || b.Kind != apierr.KindAuthentication {
		t.Fatalf("expected authentication errors, got %v / %v", unknown, wrong)
	}
	if a.Message != b.Message || a.Code != b.Code {
		t.Fatalf("unknown email and wrong password must look the same: %q vs %q", a.Message, b.Message)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "dave@example.com", RoleReader)

	role := RoleEditor
	before, after, err := svc.UpdateUser(ctx, ident.ID, IdentityUpdate{Role: &role})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if before.Role != RoleReader || after.Role != RoleEditor {
		t.Fatalf("unexpected roles: %s -> %s", before.Role, after.Role)
	}
	if _, _, err := svc.UpdateUser(ctx, ident.ID, IdentityUpdate{}); apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected invalid input for empty update, got %v", err)
	}
	if _, err := svc.DeleteUser(ctx, ident.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.GetUser(ctx, ident.ID); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
