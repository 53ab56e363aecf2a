package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
)

func TestRefreshRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshRepo(db)
	c := &model.RefreshCredential{
		ID:        uuid.Must(uuid.NewV4()),
		UserID:    uuid.Must(uuid.NewV4()),
		TokenHash: "abc",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	mock.ExpectExec(`INSERT INTO refresh_tokens \(id, user_id, token_hash, expires_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(c.ID, c.UserID, c.TokenHash, c.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(context.Background(), c))

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(c.ID, c.UserID, c.TokenHash, c.ExpiresAt).
		WillReturnError(errors.New("db down"))
	require.Error(t, r.Create(context.Background(), c))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshRepo_Consume_DeleteReturning(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	uid := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour).UTC()

	mock.ExpectQuery(`DELETE FROM refresh_tokens WHERE token_hash=\$1 RETURNING id, user_id, token_hash, expires_at, created_at`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at"}).
			AddRow(id, uid, "h1", exp, time.Now()))
	c, err := r.Consume(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, uid, c.UserID)
	require.Equal(t, exp, c.ExpiresAt)

	// the row is gone: a replay of the same digest finds nothing
	mock.ExpectQuery(`DELETE FROM refresh_tokens WHERE token_hash=\$1`).
		WithArgs("h1").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Consume(ctx, "h1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`DELETE FROM refresh_tokens WHERE token_hash=\$1`).
		WithArgs("h2").
		WillReturnError(errors.New("conn reset"))
	_, err = r.Consume(ctx, "h2")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshRepo_Deletes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefreshRepo(db)
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE token_hash=\$1`).
		WithArgs("h").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, r.DeleteByHash(ctx, "h"))

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE user_id=\$1`).
		WithArgs(uid).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	require.NoError(t, r.DeleteByUser(ctx, uid))

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err := r.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE user_id=\$1`).
		WithArgs(uid).
		WillReturnError(errors.New("boom"))
	require.Error(t, r.DeleteByUser(ctx, uid))

	require.NoError(t, mock.ExpectationsWereMet())
}
