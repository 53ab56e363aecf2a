// Package redis contains a Redis implementation of the refresh credential repository.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
)

const (
	defaultPrefix = "lms:refresh:"
	// expiredGrace keeps a key around past its horizon so consumption can still
	// report it as expired rather than unknown.
	expiredGrace = time.Hour
)

// RefreshRepo stores credentials as `<prefix><digest>` → `<userID>|<expiresUnixNano>`
// with a per-user index set `<prefix>user:<userID>`.
type RefreshRepo struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRefreshRepo constructs a Redis-backed refresh repository.
func NewRefreshRepo(rdb goredis.UniversalClient) *RefreshRepo {
	return &RefreshRepo{rdb: rdb, prefix: defaultPrefix, now: time.Now}
}

func (r *RefreshRepo) tokenKey(hash string) string { return r.prefix + hash }

func (r *RefreshRepo) userKey(id uuid.UUID) string { return r.prefix + "user:" + id.String() }

// Create writes the credential and indexes it under its owner.
func (r *RefreshRepo) Create(ctx context.Context, c *model.RefreshCredential) error {
	ttl := c.ExpiresAt.Sub(r.now()) + expiredGrace
	if ttl <= 0 {
		ttl = expiredGrace
	}
	val := c.UserID.String() + "|" + strconv.FormatInt(c.ExpiresAt.UnixNano(), 10)
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, r.tokenKey(c.TokenHash), val, ttl)
		p.SAdd(ctx, r.userKey(c.UserID), c.TokenHash)
		p.Expire(ctx, r.userKey(c.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create refresh token: %w", err)
	}
	return nil
}

// Consume removes the credential with GETDEL, which is atomic on the server.
func (r *RefreshRepo) Consume(ctx context.Context, tokenHash string) (*model.RefreshCredential, error) {
	val, err := r.rdb.GetDel(ctx, r.tokenKey(tokenHash)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis consume refresh token: %w", err)
	}
	c, err := decode(tokenHash, val)
	if err != nil {
		return nil, err
	}
	// index cleanup is best-effort; a stale member only costs a no-op DEL later
	_ = r.rdb.SRem(ctx, r.userKey(c.UserID), tokenHash).Err()
	return c, nil
}

// DeleteByHash removes the credential, if any.
func (r *RefreshRepo) DeleteByHash(ctx context.Context, tokenHash string) error {
	_, err := r.Consume(ctx, tokenHash)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

// DeleteByUser removes every credential indexed under the user.
func (r *RefreshRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	uk := r.userKey(userID)
	hashes, err := r.rdb.SMembers(ctx, uk).Result()
	if err != nil {
		return fmt.Errorf("redis list user refresh tokens: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, r.tokenKey(h))
	}
	keys = append(keys, uk)
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete user refresh tokens: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis evicts keys on TTL.
func (r *RefreshRepo) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decode(tokenHash, val string) (*model.RefreshCredential, error) {
	uid, expRaw, ok := strings.Cut(val, "|")
	if !ok {
		return nil, fmt.Errorf("redis refresh token: malformed value")
	}
	id, err := uuid.FromString(uid)
	if err != nil {
		return nil, fmt.Errorf("redis refresh token: bad user id: %w", err)
	}
	ns, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis refresh token: bad expiry: %w", err)
	}
	return &model.RefreshCredential{
		UserID:    id,
		TokenHash: tokenHash,
		ExpiresAt: time.Unix(0, ns),
	}, nil
}
