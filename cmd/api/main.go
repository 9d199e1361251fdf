package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/config"
	"inkwell.org/internal/content"
	"inkwell.org/internal/counter"
	"inkwell.org/internal/grpcapi"
	"inkwell.org/internal/guard"
	"inkwell.org/internal/httpapi"
	"inkwell.org/internal/obs"
	"inkwell.org/internal/pipeline"
	"inkwell.org/internal/store/pg"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to INKWELL_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("inkwell-api stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := obs.SetupLogger(os.Stdout, cfg.Log.Level)
	metrics := obs.NewMetrics(true)
	metrics.SetBuildInfo(obs.Version, obs.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ready []httpapi.ReadyCheck

	// Relational stores, or in-memory ones when no DSN is configured.
	var (
		users    auth.UserStore
		posts    content.Store
		auditLog audit.Store
	)
	if cfg.Database.DSN != "" {
		db, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		users, posts, auditLog = db, db, db.Audit()
		ready = append(ready, httpapi.ReadyCheck{Name: "database", Check: db.Ping})
	} else {
		logger.Warn("no database configured, using in-memory stores")
		users, posts, auditLog = auth.NewMemoryStore(), content.NewMemoryStore(), audit.NewMemoryStore()
	}

	// Shared counters for the abuse guard.
	var counters counter.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		counters = counter.NewRedis(rdb, counter.WithRedisPrefix(cfg.Redis.Prefix))
	} else {
		logger.Warn("no redis configured, abuse counters are local to this replica")
		mem := counter.NewMemory()
		mem.StartJanitor(ctx, time.Minute)
		counters = mem
	}
	ready = append(ready, httpapi.ReadyCheck{Name: "counters", Check: counters.Ping})

	tokens, err := auth.NewTokenAuthenticator(cfg.Auth.Secret, users,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithLookupRetry(cfg.Auth.LookupRetries, cfg.Auth.LookupBackoff),
	)
	if err != nil {
		return fmt.Errorf("token authenticator: %w", err)
	}

	policy, err := audit.ParsePolicy(cfg.Audit.Policy)
	if err != nil {
		return err
	}
	auditStore := audit.NewLogStore(auditLog, logger)
	recorder := audit.NewRecorder(auditStore,
		audit.WithPolicy(policy),
		audit.WithWorkers(cfg.Audit.Workers),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithMetrics(metrics),
	)

	g := guard.New(guard.Config{
		Rate:     guard.NewFixedWindow(counters, "rl", cfg.RateLimit.Window, cfg.RateLimit.Max),
		AuthRate: guard.NewFixedWindow(counters, "rl_auth", cfg.RateLimit.AuthWindow, cfg.RateLimit.AuthMax),
		Speed:    guard.NewSpeedLimiter(counters, cfg.SpeedLimit.Window, cfg.SpeedLimit.DelayAfter, cfg.SpeedLimit.Delay, cfg.SpeedLimit.MaxDelay),
		Lockouts: []*guard.Lockout{
			guard.NewLockout(counters, lockoutPolicy(guard.LoginPolicy(), cfg.BruteForce.Login, cfg.BruteForce.Lifetime)),
			guard.NewLockout(counters, lockoutPolicy(guard.RegisterPolicy(), cfg.BruteForce.Register, cfg.BruteForce.Lifetime)),
		},
		Metrics: metrics,
		Sampler: obs.NewSampler(logger, 5, 20),
	})

	ips, err := pipeline.NewIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	allow, err := pipeline.ParsePrefixes(cfg.Server.AdminAllowList)
	if err != nil {
		return fmt.Errorf("admin allow list: %w", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:        obs.Version,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
		AdminAllowList: allow,
	}, httpapi.Deps{
		Auth:     auth.NewService(users, tokens),
		Content:  content.NewService(posts),
		Recorder: recorder,
		Audit:    auditStore,
		Guard:    g,
		IPs:      ips,
		Metrics:  metrics,
		Ready:    ready,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", slog.String("addr", srv.Addr), slog.String("version", obs.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var admin *grpcapi.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		admin = grpcapi.New(tokens, obs.Version, grpcapi.WithAuditReader(auditStore))
		go admin.MonitorReadiness(ctx, 10*time.Second, func(ctx context.Context) error {
			for _, c := range ready {
				if err := c.Check(ctx); err != nil {
					return fmt.Errorf("%s: %w", c.Name, err)
				}
			}
			return nil
		})
		go func() {
			logger.Info("grpc listening", slog.String("addr", cfg.Server.GRPCAddr))
			if err := admin.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", slog.String("error", serveErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if admin != nil {
		admin.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("audit drain", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return serveErr
}

func lockoutPolicy(base guard.Policy, pc config.PolicyConfig, lifetime time.Duration) guard.Policy {
	base.FreeRetries = pc.FreeRetries
	base.MinWait = pc.MinWait
	base.MaxWait = pc.MaxWait
	base.FailClosed = pc.FailClosed
	if lifetime > 0 {
		base.Lifetime = lifetime
	}
	return base
}
