package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/deals-auth-api/internal/models"
)

// ErrTokenConsumed is returned by Consume when the row was already revoked,
// meaning another caller won the rotation race.
var ErrTokenConsumed = fmt.Errorf("refresh token already consumed")

// TokenRepository provides database access to refresh token records.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a refresh token entry.
func (r *TokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	prepareInsert(token)
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, revoked, revoked_at, created_at, last_modified_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :revoked, :revoked_at, :created_at, :last_modified_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByToken returns a refresh token by its token value.
func (r *TokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, revoked, revoked_at, created_at, last_modified_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks a token as revoked. Revoking an already revoked token is a
// no-op, which makes logout idempotent.
func (r *TokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Rotate consumes the old record and inserts its replacement in a single
// transaction. The revoke uses a compare-and-swap on the revoked flag so
// that when two rotations race over the same token exactly one observes an
// unrevoked row; the loser gets ErrTokenConsumed. A crash between the two
// statements rolls the revoke back rather than leaving the session with no
// valid token.
func (r *TokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const consume = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE id = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, consume, oldID, now)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	if affected == 0 {
		return ErrTokenConsumed
	}

	prepareInsert(next)
	const insert = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, revoked, revoked_at, created_at, last_modified_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :revoked, :revoked_at, :created_at, :last_modified_at, :ip_address, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insert, next); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token a user holds.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, last_modified_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, revokedAt); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// DeleteStale removes revoked tokens whose expiry passed before the cutoff.
// Live rows never match the predicate, so the sweep is safe to run
// concurrently with refresh traffic. Returns the number of rows deleted.
func (r *TokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE revoked = TRUE AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStaleForUser is the per-user variant used by the opportunistic sweep
// piggybacked on refresh calls.
func (r *TokenRepository) DeleteStaleForUser(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1 AND revoked = TRUE AND expires_at < $2`
	res, err := r.db.ExecContext(ctx, query, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens for user: %w", err)
	}
	return res.RowsAffected()
}

func prepareInsert(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	if token.LastModifiedAt.IsZero() {
		token.LastModifiedAt = token.CreatedAt
	}
}
