package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/lms-auth/internal/model"
)

func TestAuditRepo_AppendAndList(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)
	ctx := context.Background()
	actor := uuid.Must(uuid.NewV4())
	e := &model.AuditEvent{
		ID:       uuid.Must(uuid.NewV4()),
		ActorID:  actor,
		Action:   model.ActionLogin,
		Details:  "ip=127.0.0.1",
		LoggedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO audit_logs \(id, actor_id, action, details, logged_at\)`).
		WithArgs(e.ID, e.ActorID, e.Action, e.Details, e.LoggedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Append(ctx, e))

	t1 := time.Now().UTC()
	t0 := t1.Add(-time.Minute)
	mock.ExpectQuery(`SELECT id, actor_id, action, details, logged_at FROM audit_logs WHERE actor_id=\$1 ORDER BY logged_at DESC LIMIT \$2`).
		WithArgs(actor, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor_id", "action", "details", "logged_at"}).
			AddRow(uuid.Must(uuid.NewV4()), actor, model.ActionLogout, "", t1).
			AddRow(e.ID, actor, model.ActionLogin, e.Details, t0))
	got, err := r.ListByActor(ctx, actor, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, model.ActionLogout, got[0].Action)
	require.Equal(t, model.ActionLogin, got[1].Action)

	require.NoError(t, mock.ExpectationsWereMet())
}
