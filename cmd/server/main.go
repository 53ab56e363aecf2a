// Command lms-auth starts the LMS session HTTP API and its gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/lms-auth/internal/audit"
	"github.com/and161185/lms-auth/internal/config"
	pkgcrypto "github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/health"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/logging"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/migrate"
	httpserver "github.com/and161185/lms-auth/internal/server/http"
	"github.com/and161185/lms-auth/internal/service"
	"github.com/and161185/lms-auth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "path to an env-style config file (default: ./.env if present)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("storage", cfg.Storage),
		zap.String("refreshBackend", cfg.RefreshStorage()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Storage == config.BackendPostgres && cfg.MigrateOnStart {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hasher, err := pkgcrypto.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	codec, err := token.NewCodec([]byte(cfg.JWTSecret), cfg.AccessTTL(), token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	m := metrics.New()
	dispatcher := audit.NewDispatcher(audit.Config{BufferSize: cfg.AuditBuffer}, audit.RepositorySink{Repo: st.audits}, logger.Named("audit"))
	defer dispatcher.Close()
	m.GaugeFunc("lms_auth_audit_dropped", "Audit events dropped because the buffer was full.", func() float64 {
		return float64(dispatcher.Dropped())
	})
	m.GaugeFunc("lms_auth_audit_failed", "Audit events the sink failed to persist.", func() float64 {
		return float64(dispatcher.Failed())
	})

	sessions, err := service.NewSessionService(service.SessionDeps{
		Users:                  st.users,
		Audits:                 st.audits,
		Refresh:                service.NewRefreshStore(st.refresh, cfg.RefreshTTL()),
		Codec:                  codec,
		Hasher:                 hasher,
		Limiter:                st.limiter,
		Auditor:                dispatcher,
		Logger:                 logger.Named("session"),
		RevokeOnPasswordChange: cfg.RevokeOnPasswordChange,
	})
	if err != nil {
		return err
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	gate := limiter.NewGate(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := httpserver.NewRouter(httpserver.Deps{
		Sessions:      sessions,
		Verifier:      codec,
		Metrics:       m,
		Gate:          gate,
		Logger:        logger,
		SecureCookies: cfg.Production(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.NewServer(cfg.HTTPAddr, router, logger.Named("http")).Run(gctx)
	})
	if cfg.HealthAddr != "" {
		checker := health.NewChecker(st.pingers, 10*time.Second, logger)
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			return fmt.Errorf("health listen: %w", err)
		}
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			logger.Info("health listening", zap.String("addr", cfg.HealthAddr))
			return health.Serve(gctx, lis, checker, logger.Named("health"))
		})
	}
	sweepers := []limiter.Sweeper{gate}
	if sw, ok := st.limiter.(limiter.Sweeper); ok {
		sweepers = append(sweepers, sw)
	}
	g.Go(func() error {
		janitor(gctx, cfg.JanitorEvery(), sessions, m, logger.Named("janitor"), sweepers...)
		return nil
	})
	return g.Wait()
}

// janitor purges expired refresh credentials and idle limiter state every tick.
func janitor(ctx context.Context, every time.Duration, s *service.SessionService, m *metrics.Metrics, log *zap.Logger, sweepers ...limiter.Sweeper) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		sweep(ctx, s, m, log, sweepers...)
	}
}

func sweep(ctx context.Context, s *service.SessionService, m *metrics.Metrics, log *zap.Logger, sweepers ...limiter.Sweeper) {
	n, err := s.PurgeExpiredRefresh(ctx)
	if err != nil {
		log.Warn("purge refresh credentials", zap.Error(err))
	} else if n > 0 {
		m.RefreshPurged.Add(float64(n))
		log.Debug("purged refresh credentials", zap.Int64("count", n))
	}
	for _, sw := range sweepers {
		if evicted := sw.Sweep(); evicted > 0 {
			log.Debug("evicted limiter entries", zap.Int("count", evicted), zap.String("kind", fmt.Sprintf("%T", sw)))
		}
	}
}
