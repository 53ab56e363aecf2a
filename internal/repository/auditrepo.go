package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/model"
)

// AuditRepository is the append-only store behind the audit sink.
type AuditRepository interface {
	Append(ctx context.Context, e *model.AuditEvent) error
	// ListByActor returns the actor's most recent events, newest first.
	ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]model.AuditEvent, error)
}
