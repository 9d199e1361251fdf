package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inkwell.org/internal/ids"
)

// Metrics holds every collector the service exports. All recording methods
// are safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	guardDecisions   *prometheus.CounterVec
	guardStoreErrors *prometheus.CounterVec
	lockouts         *prometheus.CounterVec

	auditEntries       prometheus.Counter
	auditWriteFailures prometheus.Counter
	auditQueueDepth    prometheus.Gauge

	buildInfo *prometheus.GaugeVec
}

// NewMetrics registers collectors in a fresh registry. Pass withRuntime to
// include the Go and process collectors.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_guard_decisions_total",
			Help: "Abuse guard decisions by mechanism and outcome.",
		}, []string{"mechanism", "outcome"}),
		guardStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_guard_store_errors_total",
			Help: "Counter store failures seen by the abuse guard.",
		}, []string{"mechanism"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_lockouts_total",
			Help: "Brute-force locks applied per policy.",
		}, []string{"policy"}),
		auditEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkwell_audit_entries_total",
			Help: "Audit entries appended.",
		}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkwell_audit_write_failures_total",
			Help: "Audit entries that could not be appended.",
		}),
		auditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkwell_audit_queue_depth",
			Help: "Audit entries waiting to be appended.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Inkwell API build information.",
		}, []string{"version", "commit"}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.guardDecisions, m.guardStoreErrors, m.lockouts,
		m.auditEntries, m.auditWriteFailures, m.auditQueueDepth,
		m.buildInfo,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GuardDecision(mechanism, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(mechanism, outcome).Inc()
}

func (m *Metrics) GuardStoreError(mechanism string) {
	if m == nil {
		return
	}
	m.guardStoreErrors.WithLabelValues(mechanism).Inc()
}

func (m *Metrics) Lockout(policy string) {
	if m == nil {
		return
	}
	m.lockouts.WithLabelValues(policy).Inc()
}

func (m *Metrics) AuditAppended() {
	if m == nil {
		return
	}
	m.auditEntries.Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) AuditQueueDelta(delta float64) {
	if m == nil {
		return
	}
	m.auditQueueDepth.Add(delta)
}

// Instrument records RPS, latency and in-flight requests. The path label is
// the matched chi route pattern when there is one.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments so unmatched paths cannot
// explode label cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if ids.Valid(p) || isNumeric(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
