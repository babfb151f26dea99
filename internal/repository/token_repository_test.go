package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/deals-auth-api/internal/models"
)

func newTokenMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestTokenCreate(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Create(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenFindByToken(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "revoked", "revoked_at", "created_at", "last_modified_at", "ip_address", "user_agent"}).
		AddRow("rt1", "u1", "token", now.Add(time.Hour), false, nil, now, now, "10.0.0.1", "cli")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token, expires_at, revoked, revoked_at, created_at, last_modified_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1")).
		WithArgs("token").
		WillReturnRows(rows)

	rt, err := repo.FindByToken(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "rt1", rt.ID)
	assert.Equal(t, "u1", rt.UserID)
	assert.False(t, rt.Revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenFindByTokenNotFound(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectQuery("SELECT .* FROM refresh_tokens").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevoke(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	revokedAt := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE id = $1 AND revoked = FALSE")).
		WithArgs("rt1", revokedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Revoke(context.Background(), "rt1", revokedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevokeAlreadyRevokedIsNoOp(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	revokedAt := time.Now()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("rt1", revokedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "rt1", revokedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotate(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE id = $1 AND revoked = FALSE")).
		WithArgs("old", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &models.RefreshToken{UserID: "u1", Token: "next", ExpiresAt: now.Add(time.Hour)}
	err := repo.Rotate(context.Background(), "old", next, now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotateAlreadyConsumed(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("old", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &models.RefreshToken{UserID: "u1", Token: "next", ExpiresAt: now.Add(time.Hour)}
	err := repo.Rotate(context.Background(), "old", next, now)
	assert.ErrorIs(t, err, ErrTokenConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRotateInsertFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("old", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	next := &models.RefreshToken{UserID: "u1", Token: "next", ExpiresAt: now.Add(time.Hour)}
	err := repo.Rotate(context.Background(), "old", next, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	revokedAt := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("u1", revokedAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeAllForUser(context.Background(), "u1", revokedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenDeleteStale(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE revoked = TRUE AND expires_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := repo.DeleteStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenDeleteStaleForUser(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE user_id = $1 AND revoked = TRUE AND expires_at < $2")).
		WithArgs("u1", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := repo.DeleteStaleForUser(context.Background(), "u1", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
