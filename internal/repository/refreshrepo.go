package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/model"
)

// RefreshRepository persists refresh credential digests.
type RefreshRepository interface {
	// Create stores a new credential.
	Create(ctx context.Context, c *model.RefreshCredential) error
	// Consume atomically deletes the credential with the given digest and returns it,
	// expired or not. errs.ErrNotFound when no row matched. Two concurrent calls with
	// the same digest never both succeed.
	Consume(ctx context.Context, tokenHash string) (*model.RefreshCredential, error)
	// DeleteByHash removes the credential with the digest, if any.
	DeleteByHash(ctx context.Context, tokenHash string) error
	// DeleteByUser removes every credential owned by the user.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	// PurgeExpired removes credentials with expires_at <= now and reports how many.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
