// Package httpapi is the HTTP surface: a chi router under /api/v1 whose
// routes are admitted by internal/pipeline and audited by internal/audit.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/content"
	"inkwell.org/internal/guard"
	"inkwell.org/internal/obs"
	"inkwell.org/internal/pipeline"
)

// ReadyCheck is one dependency probed by /ready.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds HTTP-only settings.
type Config struct {
	Version        string
	MaxBodyBytes   int64
	CORSOrigins    []string
	AdminAllowList []netip.Prefix
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Auth     *auth.Service
	Content  *content.Service
	Recorder *audit.Recorder
	Audit    audit.Reader
	Guard    *guard.Guard
	IPs      *pipeline.IPResolver
	Metrics  *obs.Metrics
	Ready    []ReadyCheck
}

type API struct {
	cfg      Config
	users    *auth.Service
	content  *content.Service
	recorder *audit.Recorder
	audit    audit.Reader
	guard    *guard.Guard
	ips      *pipeline.IPResolver
	metrics  *obs.Metrics
	ready    []ReadyCheck

	base   *pipeline.Pipeline
	router chi.Router
}

func New(cfg Config, deps Deps) *API {
	a := &API{
		cfg:      cfg,
		users:    deps.Auth,
		content:  deps.Content,
		recorder: deps.Recorder,
		audit:    deps.Audit,
		guard:    deps.Guard,
		ips:      deps.IPs,
		metrics:  deps.Metrics,
		ready:    deps.Ready,
	}
	if a.ips == nil {
		a.ips = &pipeline.IPResolver{}
	}
	if a.guard == nil {
		a.guard = guard.New(guard.Config{Metrics: a.metrics})
	}
	a.base = pipeline.MustNew(
		pipeline.RateLimit(a.guard, a.ips.ClientIP, nil),
		pipeline.SlowDown(a.guard, a.ips.ClientIP, nil),
	)
	a.router = a.routes()
	return a
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	if a.metrics == nil {
		return a.router
	}
	return a.metrics.Instrument(a.router)
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover, RequestID, a.ips.Middleware, a.auditMeta, Logging, SecurityHeaders,
		CORS(a.cfg.CORSOrigins), MaxBodyBytes(a.cfg.MaxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierr.Write(w, r, apierr.NotFound("Route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apierr.Body{Error: "Method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Exempt from every admission stage.
		r.Get("/health", a.health)
		r.Get("/ready", a.readiness)
		if a.metrics != nil {
			r.Handle("/metrics", a.metrics.Handler())
		}

		r.Route("/auth", func(r chi.Router) {
			r.With(a.stages(
				pipeline.AuthRateLimit(a.guard, a.ips.ClientIP),
				pipeline.BruteForce(a.guard, "register", pipeline.BruteForceKey(a.ips.ClientIP)),
			)).Post("/register", a.register)
			r.With(a.stages(
				pipeline.AuthRateLimit(a.guard, a.ips.ClientIP),
				pipeline.BruteForce(a.guard, "login", pipeline.BruteForceKey(a.ips.ClientIP)),
			)).Post("/login", a.login)
			r.With(a.authenticated()).Post("/logout", a.logout)
			r.With(a.authenticated()).Get("/me", a.me)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(a.admin()).Get("/", a.listUsers)
			r.With(a.authenticated()).Get("/{id}", a.getUser)
			r.With(a.admin()).Patch("/{id}", a.updateUser)
			r.With(a.admin()).Delete("/{id}", a.deleteUser)
		})

		r.Route("/posts", func(r chi.Router) {
			r.With(a.public()).Get("/", a.listPosts)
			r.With(a.authenticated(auth.RoleAdmin, auth.RoleEditor)).Post("/", a.createPost)
			r.Route("/{id}", func(r chi.Router) {
				r.With(a.public()).Get("/", a.getPost)
				r.With(a.authenticated(auth.RoleAdmin, auth.RoleEditor)).Put("/", a.updatePost)
				r.With(a.authenticated(auth.RoleAdmin, auth.RoleEditor)).Delete("/", a.deletePost)
				r.With(a.public()).Get("/comments", a.listComments)
				r.With(a.authenticated()).Post("/comments", a.createComment)
			})
		})

		r.Route("/comments/{id}", func(r chi.Router) {
			r.With(a.authenticated()).Put("/", a.updateComment)
			r.With(a.authenticated()).Delete("/", a.deleteComment)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(a.admin())
			r.Get("/", a.listAudit)
			r.Get("/user/{userId}", a.auditByUser)
			r.Get("/entity/{entityType}/{entityId}", a.auditByEntity)
		})
	})
	return r
}

// stages merges extra into the base admission pipeline for one route.
func (a *API) stages(extra ...pipeline.Stage) func(http.Handler) http.Handler {
	p, err := a.base.Merge(extra...)
	if err != nil {
		panic(err)
	}
	return p.Middleware
}

func (a *API) public() func(http.Handler) http.Handler { return a.stages() }

// authenticated requires a valid token and, when roles are given, one of them.
func (a *API) authenticated(roles ...auth.Role) func(http.Handler) http.Handler {
	stages := []pipeline.Stage{pipeline.Authenticate(a.users.Tokens()), a.noteUser()}
	if len(roles) > 0 {
		stages = append(stages, pipeline.Authorize(roles...))
	}
	return a.stages(stages...)
}

func (a *API) admin() func(http.Handler) http.Handler {
	return a.stages(
		pipeline.Authenticate(a.users.Tokens()),
		a.noteUser(),
		pipeline.Authorize(auth.RoleAdmin),
		pipeline.AllowIPs(a.cfg.AdminAllowList, a.ips.ClientIP),
	)
}

// noteUser hands the authenticated id to the access log.
func (a *API) noteUser() pipeline.Stage {
	return pipeline.NewStage("log_identity", pipeline.PhaseAuthenticate, func(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if li := logInfoFrom(r.Context()); li != nil {
			if ident, ok := auth.IdentityFromContext(r.Context()); ok {
				li.userID = ident.ID
			}
		}
		return r, nil
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "inkwell-api",
		"version":   a.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := make(map[string]string, len(a.ready))
	var failed error
	for _, c := range a.ready {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = "unavailable"
			failed = errors.Join(failed, err)
			continue
		}
		checks[c.Name] = "ok"
	}
	if failed != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

// mutate runs fn through the recorder. An audit failure under the
// fail-closed policy is reported in a header; the mutation itself stands.
func (a *API) mutate(w http.ResponseWriter, r *http.Request, entityType, entityID string, fn func(ctx context.Context) (audit.Change, error)) bool {
	err := a.recorder.Mutate(r.Context(), entityType, entityID, fn)
	if err == nil {
		return true
	}
	if apierr.Is(err, apierr.KindAuditWrite) {
		w.Header().Set("X-Audit-Error", apierr.From(err).Code)
		return true
	}
	apierr.Write(w, r, err)
	return false
}

func actorID(r *http.Request) string {
	if ident, ok := auth.IdentityFromContext(r.Context()); ok {
		return ident.ID
	}
	return ""
}
