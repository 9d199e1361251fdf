package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/counter"
	"inkwell.org/internal/guard"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func remoteIP(r *http.Request) string { return strings.Split(r.RemoteAddr, ":")[0] }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) apierr.Body {
	t.Helper()
	var body apierr.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNewEnforcesOrder(t *testing.T) {
	tokens, err := auth.NewTokenAuthenticator(testSecret, auth.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewTokenAuthenticator: %v", err)
	}
	g := guard.New(guard.Config{})

	if _, err := New(Authorize(auth.RoleAdmin)); err == nil {
		t.Fatal("authorize without authenticate must be rejected")
	}
	if _, err := New(Authenticate(tokens), RateLimit(g, remoteIP, nil)); err == nil {
		t.Fatal("rate limit after authenticate must be rejected")
	}
	p, err := New(RateLimit(g, remoteIP, nil), SlowDown(g, remoteIP, nil), Authenticate(tokens), Authorize(auth.RoleAdmin))
	if err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	if got := strings.Join(p.Stages(), ","); got != "rate_limit,speed_limit,authenticate,authorize" {
		t.Fatalf("unexpected stages %s", got)
	}
	if _, err := p.With(BruteForce(g, "login", remoteIP)); err == nil {
		t.Fatal("brute force after authorize must be rejected")
	}
}

func TestMergeSlotsStagesByPhase(t *testing.T) {
	tokens, err := auth.NewTokenAuthenticator(testSecret, auth.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewTokenAuthenticator: %v", err)
	}
	g := guard.New(guard.Config{})
	base := MustNew(RateLimit(g, remoteIP, nil), SlowDown(g, remoteIP, nil))

	p, err := base.Merge(BruteForce(g, "login", remoteIP), AuthRateLimit(g, remoteIP))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := strings.Join(p.Stages(), ","); got != "rate_limit,auth_rate_limit,speed_limit,bruteforce_login" {
		t.Fatalf("unexpected stages %s", got)
	}
	if _, err := base.With(AuthRateLimit(g, remoteIP)); err == nil {
		t.Fatal("With must not reorder")
	}
	if _, err := base.Merge(Authorize(auth.RoleAdmin)); err == nil {
		t.Fatal("merged authorize without authenticate must be rejected")
	}
	if _, err := base.Merge(Authorize(auth.RoleAdmin), Authenticate(tokens)); err != nil {
		t.Fatalf("merge should order authenticate first: %v", err)
	}
}

func TestRateLimitShortCircuits(t *testing.T) {
	store := counter.NewMemory()
	g := guard.New(guard.Config{Rate: guard.NewFixedWindow(store, "rl", time.Hour, 2)})
	exempt := func(r *http.Request) bool { return r.URL.Path == "/health" }

	var calls atomic.Int32
	h := MustNew(RateLimit(g, remoteIP, exempt)).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for i := 0; i < 2; i++ {
		if rec := do("/posts"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
	rec := do("/posts")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("missing limit headers: %v", rec.Header())
	}
	if rec := do("/health"); rec.Code != http.StatusOK {
		t.Fatalf("exempt path limited: %d", rec.Code)
	}
	if calls.Load() != 3 {
		t.Fatalf("handler calls = %d, want 3", calls.Load())
	}
}

func TestAuthenticateThenAuthorize(t *testing.T) {
	users := auth.NewMemoryStore()
	tokens, err := auth.NewTokenAuthenticator(testSecret, users)
	if err != nil {
		t.Fatalf("NewTokenAuthenticator: %v", err)
	}
	reader := &auth.Identity{Email: "r@example.com", Username: "reader", Role: auth.RoleReader, IsActive: true, PasswordHash: "x"}
	admin := &auth.Identity{Email: "a@example.com", Username: "admin", Role: auth.RoleAdmin, IsActive: true, PasswordHash: "x"}
	for _, ident := range []*auth.Identity{reader, admin} {
		if err := users.CreateIdentity(context.Background(), ident); err != nil {
			t.Fatalf("CreateIdentity: %v", err)
		}
	}
	h := MustNew(Authenticate(tokens), Authorize(auth.RoleAdmin)).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := auth.IdentityFromContext(r.Context())
		if !ok || ident.ID != admin.ID {
			t.Errorf("identity not propagated: %+v", ident)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/audit", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	issue := func(id string) string {
		tok, _, err := tokens.Issue(id)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return tok
	}

	rec := do("")
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing token: status %d headers %v", rec.Code, rec.Header())
	}
	if rec := do("Bearer not-a-token"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", rec.Code)
	}
	rec = do("Bearer " + issue(reader.ID))
	if rec.Code != http.StatusForbidden || decodeBody(t, rec).Code != "FORBIDDEN_ERROR" {
		t.Fatalf("reader on admin route: status %d", rec.Code)
	}
	if rec := do("bearer " + issue(admin.ID)); rec.Code != http.StatusNoContent {
		t.Fatalf("admin: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestBruteForceLocksBeforeHandler(t *testing.T) {
	store := counter.NewMemory()
	policy := guard.LoginPolicy()
	policy.FreeRetries = 2
	g := guard.New(guard.Config{Lockouts: []*guard.Lockout{guard.NewLockout(store, policy)}})

	var calls atomic.Int32
	h := MustNew(BruteForce(g, "login", BruteForceKey(remoteIP))).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), "email") {
			t.Errorf("body not restored: %q", raw)
		}
		apierr.Write(w, r, apierr.InvalidCredentials(nil))
	}))

	login := func(email string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"`+email+`","password":"nope"}`))
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for i := 0; i < 2; i++ {
		if rec := login("Victim@Example.com"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i+1, rec.Code)
		}
	}
	rec := login("victim@example.com")
	if rec.Code != http.StatusTooManyRequests || decodeBody(t, rec).Code != "TOO_MANY_ATTEMPTS" {
		t.Fatalf("expected lock, got %d %s", rec.Code, rec.Body.String())
	}
	if calls.Load() != 2 {
		t.Fatalf("locked attempt reached the handler: calls=%d", calls.Load())
	}
	if rec := login("other@example.com"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("other account from same ip should be open, got %d", rec.Code)
	}
}

func TestBruteForceAdmitsOneConcurrentAttemptAtLastSlot(t *testing.T) {
	const threshold = 5
	policy := guard.LoginPolicy()
	policy.FreeRetries = threshold
	g := guard.New(guard.Config{Lockouts: []*guard.Lockout{guard.NewLockout(counter.NewMemory(), policy)}})

	var (
		verifications atomic.Int32
		hold          atomic.Bool
	)
	release := make(chan struct{})
	h := MustNew(BruteForce(g, "login", BruteForceKey(remoteIP))).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hold.Load() {
			verifications.Add(1)
			<-release
		}
		apierr.Write(w, r, apierr.InvalidCredentials(nil))
	}))
	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"victim@example.com","password":"nope"}`))
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < threshold-1; i++ {
		if code := login(); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i+1, code)
		}
	}

	const concurrent = 10
	hold.Store(true)
	codes := make(chan int, concurrent)
	for i := 0; i < concurrent; i++ {
		go func() { codes <- login() }()
	}
	rejected := 0
	timeout := time.After(5 * time.Second)
	for rejected < concurrent-1 {
		select {
		case code := <-codes:
			if code != http.StatusTooManyRequests {
				close(release)
				t.Fatalf("expected 429 while the last slot is held, got %d", code)
			}
			rejected++
		case <-timeout:
			close(release)
			t.Fatalf("only %d of %d attempts rejected; %d reached the verifier", rejected, concurrent-1, verifications.Load())
		}
	}
	close(release)
	if code := <-codes; code != http.StatusUnauthorized {
		t.Fatalf("admitted attempt: status %d", code)
	}
	if n := verifications.Load(); n != 1 {
		t.Fatalf("expected one verification past the last free slot, got %d", n)
	}

	hold.Store(false)
	if code := login(); code != http.StatusTooManyRequests {
		t.Fatalf("expected lock after the threshold failure, got %d", code)
	}
}

func TestBruteForceNeutralOutcomeReleasesSlot(t *testing.T) {
	policy := guard.LoginPolicy()
	policy.FreeRetries = 1
	g := guard.New(guard.Config{Lockouts: []*guard.Lockout{guard.NewLockout(counter.NewMemory(), policy)}})

	var panics atomic.Bool
	h := MustNew(BruteForce(g, "login", remoteIP)).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if panics.Load() {
			panic("boom")
		}
		apierr.Write(w, r, apierr.InvalidInput("bad request", nil))
	}))
	do := func() (code int, panicked bool) {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code, false
	}

	for i := 0; i < 3; i++ {
		if code, _ := do(); code != http.StatusBadRequest {
			t.Fatalf("attempt %d: status %d", i+1, code)
		}
	}
	panics.Store(true)
	if _, panicked := do(); !panicked {
		t.Fatal("expected the handler panic to propagate")
	}
	panics.Store(false)
	if code, _ := do(); code != http.StatusBadRequest {
		t.Fatalf("slot leaked after a panic: status %d", code)
	}
}

func TestSlowDownDropsDisconnectedClient(t *testing.T) {
	store := counter.NewMemory()
	g := guard.New(guard.Config{
		Speed: guard.NewSpeedLimiter(store, time.Minute, 0, time.Second, time.Second),
		Wait:  func(context.Context, time.Duration) error { return context.Canceled },
	})
	called := false
	h := MustNew(SlowDown(g, remoteIP, nil)).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if called || rec.Body.Len() != 0 {
		t.Fatalf("dropped request reached handler or got a body: called=%v body=%q", called, rec.Body.String())
	}
}

func TestIPResolverTrustsOnlyConfiguredProxies(t *testing.T) {
	res, err := NewIPResolver([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewIPResolver: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")

	req.RemoteAddr = "10.1.2.3:80"
	if got := res.ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("trusted proxy: got %s", got)
	}
	req.RemoteAddr = "198.51.100.1:80"
	if got := res.ClientIP(req); got != "198.51.100.1" {
		t.Fatalf("untrusted peer: got %s", got)
	}
	if _, err := NewIPResolver([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAllowIPs(t *testing.T) {
	allow, err := ParsePrefixes([]string{"192.168.1.10"})
	if err != nil {
		t.Fatalf("ParsePrefixes: %v", err)
	}
	users := auth.NewMemoryStore()
	tokens, _ := auth.NewTokenAuthenticator(testSecret, users)
	admin := &auth.Identity{Email: "a@example.com", Username: "admin", Role: auth.RoleAdmin, IsActive: true, PasswordHash: "x"}
	if err := users.CreateIdentity(context.Background(), admin); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	tok, _, _ := tokens.Issue(admin.ID)

	h := MustNew(Authenticate(tokens), Authorize(auth.RoleAdmin), AllowIPs(allow, remoteIP)).
		Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.RemoteAddr = "192.168.1.11:999"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || decodeBody(t, rec).Code != "IP_NOT_ALLOWED" {
		t.Fatalf("expected IP_NOT_ALLOWED, got %d %s", rec.Code, rec.Body.String())
	}
}
