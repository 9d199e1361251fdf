package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/api/v1/metrics":                  "/api/v1/metrics",
		"/api/v1/posts/01HZX3J7V6K2M9Q4R8T0W5Y1BC": "/api/v1/posts/:id",
		"/api/v1/posts/42/comments":        "/api/v1/posts/:id/comments",
		"/api/v1/posts?limit=10":           "/api/v1/posts",
		"/api/v1/audit/entity/post/latest": "/api/v1/audit/entity/post/latest",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	m := NewMetrics(false)
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/posts/7", nil))
	}
	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/posts/:id", "418"))
	if got != 3 {
		t.Fatalf("expected 3 requests, got %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.GuardDecision("rate", "allow")
	m.Lockout("login")
	m.AuditQueueDelta(1)
	if m.Instrument(http.NotFoundHandler()) == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestHandlerExposesGuardMetrics(t *testing.T) {
	m := NewMetrics(false)
	m.GuardDecision("rate", "reject")
	m.SetBuildInfo("1.0.0", "abc")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`inkwell_guard_decisions_total{mechanism="rate",outcome="reject"} 1`,
		`build_info{commit="abc",version="1.0.0"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestSamplerSuppressesBursts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewSampler(logger, 0.0001, 2)

	emitted := 0
	for i := 0; i < 10; i++ {
		if s.Log(context.Background(), slog.LevelWarn, "rejected") {
			emitted++
		}
	}
	if emitted != 2 {
		t.Fatalf("expected 2 emitted lines, got %d", emitted)
	}
	if s.Suppressed() != 8 {
		t.Fatalf("expected 8 suppressed, got %d", s.Suppressed())
	}
	line := strings.SplitN(strings.TrimSpace(buf.String()), "\n", 2)[0]
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if decoded["msg"] != "rejected" {
		t.Fatalf("unexpected line: %v", decoded)
	}
}
