package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/authguard-api/internal/models"
)

// ErrTokenNotRotatable is returned when the presented refresh token was
// already revoked, rotated or expired at the moment of rotation.
var ErrTokenNotRotatable = errors.New("refresh token not rotatable")

const refreshTokenColumns = `id, session_id, token_hash, expires_at, revoked_at, rotated_at, created_at`

// RefreshTokenRepository persists refresh token digests.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository constructs the repository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	prepareRefreshToken(token)
	const query = `INSERT INTO refresh_tokens (id, session_id, token_hash, expires_at, created_at)
VALUES (:id, :session_id, :token_hash, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindValid returns the token when it is neither revoked nor expired at now,
// else sql.ErrNoRows.
func (r *RefreshTokenRepository) FindValid(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2`
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, hash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find valid refresh token: %w", err)
	}
	return &token, nil
}

// FindByHash returns the token in any state.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

// Rotate atomically supersedes oldHash with next. The conditional update makes
// concurrent rotations of the same token race on a row lock: exactly one
// commits, the others see zero rows and get ErrTokenNotRotatable.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const revokeQuery = `UPDATE refresh_tokens SET revoked_at = $2, rotated_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING session_id`
	var sessionID string
	if err = tx.GetContext(ctx, &sessionID, revokeQuery, oldHash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrTokenNotRotatable
			return err
		}
		return fmt.Errorf("supersede refresh token: %w", err)
	}

	next.SessionID = sessionID
	prepareRefreshToken(next)
	const insertQuery = `INSERT INTO refresh_tokens (id, session_id, token_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertQuery, next.ID, next.SessionID, next.TokenHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate refresh token: %w", err)
	}
	return nil
}

// RevokeAllForSession revokes every live token bound to the session.
func (r *RefreshTokenRepository) RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke session refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStale removes tokens that expired or were revoked before cutoff.
func (r *RefreshTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1 OR revoked_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func prepareRefreshToken(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
}
