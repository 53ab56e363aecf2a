package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
)

// RefreshRepo implements RefreshRepository using PostgreSQL.
type RefreshRepo struct{ db *DB }

// NewRefreshRepo constructs a refresh credential repository.
func NewRefreshRepo(db *DB) *RefreshRepo { return &RefreshRepo{db: db} }

// Create inserts a credential row.
func (r *RefreshRepo) Create(ctx context.Context, c *model.RefreshCredential) error {
	const q = `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.TokenHash, c.ExpiresAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Consume deletes the row matching the digest and returns it. The lookup and the
// delete are one statement, so a concurrent Consume of the same digest gets no row.
func (r *RefreshRepo) Consume(ctx context.Context, tokenHash string) (*model.RefreshCredential, error) {
	const q = `
DELETE FROM refresh_tokens WHERE token_hash=$1
RETURNING id, user_id, token_hash, expires_at, created_at`
	var c model.RefreshCredential
	err := r.db.Pool.QueryRow(ctx, q, tokenHash).Scan(&c.ID, &c.UserID, &c.TokenHash, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	return &c, nil
}

// DeleteByHash removes the credential with the digest; missing rows are not an error.
func (r *RefreshRepo) DeleteByHash(ctx context.Context, tokenHash string) error {
	const q = `DELETE FROM refresh_tokens WHERE token_hash=$1`
	if _, err := r.db.Pool.Exec(ctx, q, tokenHash); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteByUser removes all of a user's credentials.
func (r *RefreshRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM refresh_tokens WHERE user_id=$1`
	if _, err := r.db.Pool.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

// PurgeExpired removes credentials whose horizon has passed.
func (r *RefreshRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
