package grpcapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/auth"
)

const adminMethodPrefix = "/inkwell.admin.v1.Admin/"

var errMissingToken = errors.New("missing authorization metadata")

type peerEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// peerLimiter keeps one token bucket per remote host.
type peerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	peers   map[string]*peerEntry
	idleTTL time.Duration
	now     func() time.Time
}

func newPeerLimiter(perSecond float64, burst int) *peerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &peerLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		peers:   make(map[string]*peerEntry),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (p *peerLimiter) allow(key string) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	e, ok := p.peers[key]
	if !ok {
		if len(p.peers) >= 1024 {
			p.sweepLocked(now)
		}
		e = &peerEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.peers[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (p *peerLimiter) sweepLocked(now time.Time) {
	for k, e := range p.peers {
		if now.Sub(e.seen) > p.idleTTL {
			delete(p.peers, k)
		}
	}
}

func peerKey(ctx context.Context) string {
	pr, ok := peer.FromContext(ctx)
	if !ok || pr.Addr == nil {
		return "unknown"
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// admit applies the peer bucket, then authenticates. Admin methods also
// require the ADMIN role.
func admit(ctx context.Context, limits *peerLimiter, tokens *auth.TokenAuthenticator, method string) (context.Context, error) {
	if !limits.allow(peerKey(ctx)) {
		return nil, toStatus(apierr.TooManyRequests(time.Second))
	}
	token, err := bearerFromMetadata(ctx)
	if err != nil {
		return nil, toStatus(apierr.Authentication(err))
	}
	identity, err := tokens.Verify(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	if strings.HasPrefix(method, adminMethodPrefix) {
		if err := auth.Authorize(identity, auth.RoleAdmin); err != nil {
			return nil, toStatus(err)
		}
	}
	return auth.ContextWithIdentity(ctx, identity), nil
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errMissingToken
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", errMissingToken
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(vals[0]), " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

func unaryInterceptor(limits *peerLimiter, tokens *auth.TokenAuthenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := admit(ctx, limits, tokens, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func streamInterceptor(limits *peerLimiter, tokens *auth.TokenAuthenticator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := admit(ss.Context(), limits, tokens, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

// toStatus maps apierr kinds onto gRPC codes.
func toStatus(err error) error {
	e := apierr.From(err)
	if e == nil {
		return status.Error(codes.Internal, "internal error")
	}
	var code codes.Code
	switch e.Kind {
	case apierr.KindAuthentication:
		code = codes.Unauthenticated
	case apierr.KindForbidden:
		code = codes.PermissionDenied
	case apierr.KindTooManyRequests, apierr.KindTooManyAttempts:
		code = codes.ResourceExhausted
	case apierr.KindInvalidInput:
		code = codes.InvalidArgument
	case apierr.KindNotFound:
		code = codes.NotFound
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Message)
}
