// Package pipeline runs the admission stages in front of a handler:
// rate limit, speed limit, brute-force lockout, authentication and
// authorization, in that order. Each stage either continues or
// short-circuits with an apierr response.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"inkwell.org/internal/apierr"
)

// Phase fixes where a stage may appear. Stages must be given in
// non-decreasing phase order.
type Phase int

const (
	PhaseRate Phase = iota
	PhaseSpeed
	PhaseBruteForce
	PhaseAuthenticate
	PhaseAuthorize
)

func (p Phase) String() string {
	switch p {
	case PhaseRate:
		return "rate"
	case PhaseSpeed:
		return "speed"
	case PhaseBruteForce:
		return "bruteforce"
	case PhaseAuthenticate:
		return "authenticate"
	case PhaseAuthorize:
		return "authorize"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrDropped short-circuits without writing a response; the client is gone.
var ErrDropped = errors.New("pipeline: request dropped")

// Stage is one admission step. Run returns the request to pass on (it may
// carry a derived context) or an error that ends the pipeline.
type Stage interface {
	Name() string
	Phase() Phase
	Run(w http.ResponseWriter, r *http.Request) (*http.Request, error)
}

// Finisher is implemented by stages that want the handler's status code,
// such as the brute-force stage classifying login outcomes.
type Finisher interface {
	Finish(r *http.Request, status int)
}

// Pipeline is an immutable ordered stage list.
type Pipeline struct {
	stages []Stage
}

// New validates stage order. Authorization without a preceding
// authentication stage is rejected, since an identity-less request must
// never reach a role check.
func New(stages ...Stage) (*Pipeline, error) {
	var (
		last          = PhaseRate
		authenticated bool
	)
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("pipeline: stage %d is nil", i)
		}
		if s.Phase() < last {
			return nil, fmt.Errorf("pipeline: stage %q (%s) after %s", s.Name(), s.Phase(), last)
		}
		if s.Phase() == PhaseAuthenticate {
			authenticated = true
		}
		if s.Phase() == PhaseAuthorize && !authenticated {
			return nil, fmt.Errorf("pipeline: stage %q needs an authentication stage first", s.Name())
		}
		last = s.Phase()
	}
	return &Pipeline{stages: append([]Stage(nil), stages...)}, nil
}

// MustNew is New for static route tables.
func MustNew(stages ...Stage) *Pipeline {
	p, err := New(stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// With returns a pipeline extended by more stages, validated as New does.
func (p *Pipeline) With(stages ...Stage) (*Pipeline, error) {
	return New(append(append([]Stage(nil), p.stages...), stages...)...)
}

// Merge slots stages into p by phase, keeping the relative order of
// stages that share a phase. A route can add an auth rate limit to a base
// of rate limit plus slow down without repeating the base.
func (p *Pipeline) Merge(stages ...Stage) (*Pipeline, error) {
	all := append(append([]Stage(nil), p.stages...), stages...)
	for i, s := range all {
		if s == nil {
			return nil, fmt.Errorf("pipeline: stage %d is nil", i)
		}
	}
	slices.SortStableFunc(all, func(a, b Stage) int { return cmp.Compare(a.Phase(), b.Phase()) })
	return New(all...)
}

// Then wraps next. Rejections are written with apierr.Write; finishers run
// after next with the status it produced.
func (p *Pipeline) Then(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var finishers []Finisher
		for _, s := range p.stages {
			nr, err := s.Run(w, r)
			if err != nil {
				if errors.Is(err, ErrDropped) {
					return
				}
				apierr.Write(w, r, err)
				return
			}
			if nr != nil {
				r = nr
			}
			if f, ok := s.(Finisher); ok {
				finishers = append(finishers, f)
			}
		}
		if len(finishers) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		// The client may already be gone; outcomes still count. A panicking
		// handler settles as a 500 before the panic moves on.
		fr := r.WithContext(context.WithoutCancel(r.Context()))
		defer func() {
			status := rec.status
			rv := recover()
			if rv != nil {
				status = http.StatusInternalServerError
			}
			for _, f := range finishers {
				f.Finish(fr, status)
			}
			if rv != nil {
				panic(rv)
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// Middleware adapts Then for router.Use / route.With.
func (p *Pipeline) Middleware(next http.Handler) http.Handler { return p.Then(next) }

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
