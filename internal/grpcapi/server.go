// Package grpcapi is the internal admin surface: the standard gRPC health
// service plus a small admin service, both behind peer rate limiting and
// token authentication.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
)

const serviceName = "inkwell-admin"

// Server owns the grpc.Server and its health state.
type Server struct {
	tokens  *auth.TokenAuthenticator
	audit   audit.Reader
	version string

	peerRate  float64
	peerBurst int

	health *health.Server
	grpc   *grpc.Server
}

type Option func(*Server)

// WithPeerRate sets the per-peer token bucket. Zero disables it.
func WithPeerRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.peerRate = perSecond
		s.peerBurst = burst
	}
}

// WithAuditReader enables QueryAudit.
func WithAuditReader(r audit.Reader) Option {
	return func(s *Server) { s.audit = r }
}

func New(tokens *auth.TokenAuthenticator, version string, opts ...Option) *Server {
	s := &Server{
		tokens:    tokens,
		version:   version,
		peerRate:  20,
		peerBurst: 40,
		health:    health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	limits := newPeerLimiter(s.peerRate, s.peerBurst)
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryInterceptor(limits, tokens)),
		grpc.ChainStreamInterceptor(streamInterceptor(limits, tokens)),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&adminServiceDesc, &adminServer{srv: s})
	s.SetServing(true)
	return s
}

// GRPC exposes the underlying server for registration in tests.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// GracefulStop marks the server not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// SetServing flips the overall and per-service health status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(adminServiceDesc.ServiceName, status)
}

// MonitorReadiness runs check every interval until ctx ends and mirrors the
// result into the health service.
func (s *Server) MonitorReadiness(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probe := func() {
		cctx, cancel := context.WithTimeout(ctx, interval/2)
		defer cancel()
		err := check(cctx)
		if err != nil {
			slog.WarnContext(ctx, "grpc readiness check failed", slog.String("error", err.Error()))
		}
		s.SetServing(err == nil)
	}
	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
