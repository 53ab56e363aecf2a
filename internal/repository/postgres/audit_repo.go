package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit log repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one audit event.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditEvent) error {
	const q = `
INSERT INTO audit_logs (id, actor_id, action, details, logged_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Pool.Exec(ctx, q, e.ID, e.ActorID, e.Action, e.Details, e.LoggedAt); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByActor returns the newest events of an actor.
func (r *AuditRepo) ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]model.AuditEvent, error) {
	const q = `
SELECT id, actor_id, action, details, logged_at
FROM audit_logs WHERE actor_id=$1
ORDER BY logged_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]model.AuditEvent, 0, limit)
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Details, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}
