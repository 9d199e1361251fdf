package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/guard"
)

// StageFunc builds a Stage from a function.
type StageFunc struct {
	name  string
	phase Phase
	fn    func(w http.ResponseWriter, r *http.Request) (*http.Request, error)
}

func NewStage(name string, phase Phase, fn func(w http.ResponseWriter, r *http.Request) (*http.Request, error)) StageFunc {
	return StageFunc{name: name, phase: phase, fn: fn}
}

func (s StageFunc) Name() string { return s.name }
func (s StageFunc) Phase() Phase { return s.phase }
func (s StageFunc) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	return s.fn(w, r)
}

// RateLimit admits through the general fixed window. exempt may be nil.
func RateLimit(g *guard.Guard, key KeyFunc, exempt func(*http.Request) bool) Stage {
	return NewStage("rate_limit", PhaseRate, func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if exempt != nil && exempt(r) {
			return r, nil
		}
		d, err := g.AdmitRate(r.Context(), key(r))
		setRateHeaders(w, d)
		return r, err
	})
}

// AuthRateLimit applies the stricter window used on /auth routes.
func AuthRateLimit(g *guard.Guard, key KeyFunc) Stage {
	return NewStage("auth_rate_limit", PhaseRate, func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		_, err := g.AdmitAuthRate(r.Context(), key(r))
		return r, err
	})
}

func setRateHeaders(w http.ResponseWriter, d guard.Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// SlowDown delays requests past the free threshold. A client that leaves
// while waiting is dropped before the handler runs.
func SlowDown(g *guard.Guard, key KeyFunc, exempt func(*http.Request) bool) Stage {
	return NewStage("speed_limit", PhaseSpeed, func(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if exempt != nil && exempt(r) {
			return r, nil
		}
		if _, err := g.Slow(r.Context(), key(r)); err != nil {
			return nil, ErrDropped
		}
		return r, nil
	})
}

type bruteKey struct{ policy string }

type bruteForceStage struct {
	g      *guard.Guard
	policy string
	key    KeyFunc
}

// BruteForce reserves an attempt before the handler and settles it with
// the handler's status afterwards.
func BruteForce(g *guard.Guard, policy string, key KeyFunc) Stage {
	return &bruteForceStage{g: g, policy: policy, key: key}
}

func (s *bruteForceStage) Name() string { return "bruteforce_" + s.policy }
func (s *bruteForceStage) Phase() Phase { return PhaseBruteForce }

func (s *bruteForceStage) Run(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
	res, err := s.g.Reserve(r.Context(), s.policy, s.key(r))
	if err != nil {
		return nil, err
	}
	return r.WithContext(context.WithValue(r.Context(), bruteKey{s.policy}, res)), nil
}

func (s *bruteForceStage) Finish(r *http.Request, status int) {
	res, ok := r.Context().Value(bruteKey{s.policy}).(guard.Reservation)
	if !ok {
		return
	}
	s.g.Settle(r.Context(), s.policy, res, status)
}

var errMissingToken = errors.New("missing bearer token")

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// Authenticate verifies the bearer token and attaches the identity.
func Authenticate(tokens *auth.TokenAuthenticator) Stage {
	return NewStage("authenticate", PhaseAuthenticate, func(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
		tok, ok := BearerToken(r)
		if !ok {
			return nil, apierr.Authentication(errMissingToken)
		}
		identity, err := tokens.Verify(r.Context(), tok)
		if err != nil {
			return nil, err
		}
		return r.WithContext(auth.ContextWithIdentity(r.Context(), identity)), nil
	})
}

// Authorize requires one of roles. An empty role list denies everyone.
func Authorize(roles ...auth.Role) Stage {
	return NewStage("authorize", PhaseAuthorize, func(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
		identity, _ := auth.IdentityFromContext(r.Context())
		return r, auth.Authorize(identity, roles...)
	})
}

// AllowIPs limits a route to clients inside allow. An empty list allows all.
func AllowIPs(allow []netip.Prefix, ip KeyFunc) Stage {
	return NewStage("ip_allow_list", PhaseAuthorize, func(_ http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if len(allow) == 0 || contains(allow, ip(r)) {
			return r, nil
		}
		return nil, apierr.IPNotAllowed()
	})
}
