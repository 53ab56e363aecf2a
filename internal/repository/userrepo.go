// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/model"
)

// UserRepository provides the principal reads/writes the session subsystem needs.
type UserRepository interface {
	// Create inserts a new user; errs.ErrAlreadyExists on duplicate username.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID; errs.ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username; errs.ErrNotFound when absent.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// UpdatePassword replaces the stored password digest.
	UpdatePassword(ctx context.Context, id uuid.UUID, pwdHash string) error
}
