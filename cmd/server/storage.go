package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/config"
	"github.com/and161185/lms-auth/internal/health"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/repository"
	"github.com/and161185/lms-auth/internal/repository/memory"
	"github.com/and161185/lms-auth/internal/repository/postgres"
	redisrepo "github.com/and161185/lms-auth/internal/repository/redis"
)

// storage bundles the selected backends and the handles that need closing.
type storage struct {
	users   repository.UserRepository
	audits  repository.AuditRepository
	refresh repository.RefreshRepository
	limiter limiter.Limiter
	pingers map[string]health.Pinger
	closers []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	st := &storage{pingers: map[string]health.Pinger{}}
	policy := limiter.Policy{Window: cfg.LoginWindow(), MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock()}

	var db *postgres.DB
	switch cfg.Storage {
	case config.BackendPostgres:
		var err error
		db, err = postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		st.pingers["postgres"] = db
		st.users = postgres.NewUserRepo(db)
		st.audits = postgres.NewAuditRepo(db)
		st.limiter = limiter.NewPG(db.Pool, policy)
	case config.BackendMemory:
		log.Warn("memory storage: accounts and sessions are lost on restart")
		st.users = memory.NewUserRepo()
		st.audits = memory.NewAuditRepo()
		st.limiter = limiter.NewMemory(policy)
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	switch cfg.RefreshStorage() {
	case config.BackendPostgres:
		if db == nil {
			st.Close()
			return nil, fmt.Errorf("refresh backend postgres requires STORAGE=postgres")
		}
		st.refresh = postgres.NewRefreshRepo(db)
	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			st.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.pingers["redis"] = health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		st.refresh = redisrepo.NewRefreshRepo(rdb)
	case config.BackendMemory:
		st.refresh = memory.NewRefreshRepo()
	default:
		st.Close()
		return nil, fmt.Errorf("unknown refresh backend %q", cfg.RefreshStorage())
	}
	return st, nil
}
