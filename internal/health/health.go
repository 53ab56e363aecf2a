// Package health exposes the standard gRPC health service, driven by periodic storage pings.
package health

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcserver "github.com/and161185/lms-auth/internal/server/grpc"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "lms.auth.v1.Session"

// Pinger is a dependency whose liveness decides serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker periodically pings dependencies and updates a gRPC health server.
type Checker struct {
	hs       *health.Server
	deps     map[string]Pinger
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewChecker builds a checker; deps are keyed by a name used in log lines.
func NewChecker(deps map[string]Pinger, interval time.Duration, log *zap.Logger) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c := &Checker{
		hs:       health.NewServer(),
		deps:     deps,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log.Named("health"),
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Server returns the underlying health server.
func (c *Checker) Server() *health.Server { return c.hs }

// Check pings every dependency once and updates the status. It reports whether all were healthy.
func (c *Checker) Check(ctx context.Context) bool {
	ok := true
	for name, p := range c.deps {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			ok = false
			c.log.Warn("dependency unhealthy", zap.String("dep", name), zap.Error(err))
		}
	}
	if ok {
		c.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run checks immediately and then every interval until ctx is done, then marks everything NOT_SERVING.
func (c *Checker) Run(ctx context.Context) {
	c.Check(ctx)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.hs.Shutdown()
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}

func (c *Checker) set(st healthpb.HealthCheckResponse_ServingStatus) {
	c.hs.SetServingStatus("", st)
	c.hs.SetServingStatus(ServiceName, st)
}

// Serve registers the health service on a new gRPC server and serves lis until ctx is done.
func Serve(ctx context.Context, lis net.Listener, c *Checker, log *zap.Logger) error {
	s := grpc.NewServer(grpcserver.ServerOptions(log)...)
	healthpb.RegisterHealthServer(s, c.Server())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		return nil
	case err := <-errCh:
		log.Error("health server error", zap.Error(err))
		return err
	}
}
