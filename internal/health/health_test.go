package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, c *Checker, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
	require.NoError(t, err)
	return resp.Status
}

func TestChecker_StatusFollowsPings(t *testing.T) {
	var healthy atomic.Bool
	c := NewChecker(map[string]Pinger{
		"db": PingFunc(func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("down")
		}),
	}, time.Hour, zaptest.NewLogger(t))

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ""))

	healthy.Store(true)
	require.True(t, c.Check(context.Background()))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ServiceName))

	healthy.Store(false)
	require.False(t, c.Check(context.Background()))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ServiceName))
}

func TestServe_AnswersHealthOverGRPC(t *testing.T) {
	c := NewChecker(map[string]Pinger{"mem": PingFunc(func(context.Context) error { return nil })}, time.Hour, zaptest.NewLogger(t))
	require.True(t, c.Check(context.Background()))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, c, zaptest.NewLogger(t)) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	resp, err := healthpb.NewHealthClient(conn).Check(cctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	require.NoError(t, <-done)
}
