package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/repository"
)

// DefaultRefreshHorizon is the fixed lifetime of a refresh credential.
const DefaultRefreshHorizon = 7 * 24 * time.Hour

// RefreshStore issues and rotates single-use refresh secrets. Only digests reach storage.
type RefreshStore struct {
	repo    repository.RefreshRepository
	horizon time.Duration
	now     func() time.Time
}

// NewRefreshStore wires a store over repo; a non-positive horizon selects the default.
func NewRefreshStore(repo repository.RefreshRepository, horizon time.Duration) *RefreshStore {
	if horizon <= 0 {
		horizon = DefaultRefreshHorizon
	}
	return &RefreshStore{repo: repo, horizon: horizon, now: time.Now}
}

// Horizon returns the lifetime given to new credentials.
func (s *RefreshStore) Horizon() time.Duration { return s.horizon }

// Create persists a fresh credential for the principal and returns the raw secret.
func (s *RefreshStore) Create(ctx context.Context, principalID uuid.UUID) (string, time.Time, error) {
	raw, err := pkgcrypto.NewRefreshSecret()
	if err != nil {
		return "", time.Time{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	c := &model.RefreshCredential{
		ID:        id,
		UserID:    principalID,
		TokenHash: pkgcrypto.HashRefreshSecret(raw),
		ExpiresAt: now.Add(s.horizon),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh credential: %w", err)
	}
	return raw, c.ExpiresAt, nil
}

// Consume exchanges a raw secret for its principal exactly once.
// Unknown or already used secrets yield errs.ErrTokenInvalid, lapsed ones errs.ErrTokenExpired.
func (s *RefreshStore) Consume(ctx context.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errs.ErrTokenInvalid
	}
	c, err := s.repo.Consume(ctx, pkgcrypto.HashRefreshSecret(raw))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return uuid.Nil, errs.ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("consume refresh credential: %w", err)
	}
	// the row is gone either way; an expired one is simply purged early
	if c.Expired(s.now()) {
		return uuid.Nil, errs.ErrTokenExpired
	}
	return c.UserID, nil
}

// RevokeBySecret deletes the credential behind raw, if any.
func (s *RefreshStore) RevokeBySecret(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.repo.DeleteByHash(ctx, pkgcrypto.HashRefreshSecret(raw)); err != nil {
		return fmt.Errorf("revoke refresh credential: %w", err)
	}
	return nil
}

// RevokeAll deletes every credential owned by the principal.
func (s *RefreshStore) RevokeAll(ctx context.Context, principalID uuid.UUID) error {
	if err := s.repo.DeleteByUser(ctx, principalID); err != nil {
		return fmt.Errorf("revoke refresh credentials: %w", err)
	}
	return nil
}

// PurgeExpired removes credentials whose horizon has passed.
func (s *RefreshStore) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeExpired(ctx, s.now())
}
