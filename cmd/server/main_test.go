package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/config"
	pkgcrypto "github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/service"
	"github.com/and161185/lms-auth/internal/token"
)

func memoryConfig() *config.Config {
	return &config.Config{Storage: config.BackendMemory, LoginMaxFails: 100, LoginWindowRaw: "1ns", LoginBlockRaw: "1m"}
}

func Test_openStorage_MemoryLimiterIsSwept(t *testing.T) {
	ctx := context.Background()
	st, err := openStorage(ctx, memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer st.Close()

	mem, ok := st.limiter.(*limiter.Memory)
	if !ok {
		t.Fatalf("memory storage should use the in-process limiter, got %T", st.limiter)
	}
	if _, ok := st.limiter.(limiter.Sweeper); !ok {
		t.Fatalf("memory limiter must be sweepable")
	}

	codec, err := token.NewCodec([]byte("server-test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	svc, err := service.NewSessionService(service.SessionDeps{
		Users:   st.users,
		Refresh: service.NewRefreshStore(st.refresh, time.Hour),
		Codec:   codec,
		Hasher:  pkgcrypto.NewBcryptHasher(4),
		Limiter: st.limiter,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	for i := 0; i < 10; i++ {
		_, _, _ = mem.Failure(ctx, "attacker", limiter.HashIP("10.0.0."+string(rune('0'+i))))
	}
	if mem.Len() != 10 {
		t.Fatalf("want 10 tracked pairs, got %d", mem.Len())
	}
	time.Sleep(5 * time.Millisecond)

	sweep(ctx, svc, metrics.New(), zap.NewNop(), limiter.NewGate(1, 1), mem)
	if mem.Len() != 0 {
		t.Fatalf("idle limiter entries survived the janitor: %d", mem.Len())
	}
}

func Test_openStorage_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage = "sqlite"
	if _, err := openStorage(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("unknown storage must fail")
	}
	cfg = memoryConfig()
	cfg.RefreshBackend = config.BackendPostgres
	if _, err := openStorage(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("postgres refresh backend without postgres storage must fail")
	}
}
