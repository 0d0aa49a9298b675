package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TokenBlacklistRepository stores digests of revoked access tokens. It is the
// source of truth; the Redis mirror only shortcuts positive lookups.
type TokenBlacklistRepository struct {
	db *sqlx.DB
}

// NewTokenBlacklistRepository constructs the repository.
func NewTokenBlacklistRepository(db *sqlx.DB) *TokenBlacklistRepository {
	return &TokenBlacklistRepository{db: db}
}

// Add records digest until expiresAt. Re-adding is a no-op.
func (r *TokenBlacklistRepository) Add(ctx context.Context, digest string, expiresAt, now time.Time) error {
	const query = `INSERT INTO token_blacklist (token_hash, expires_at, created_at) VALUES ($1, $2, $3)
ON CONFLICT (token_hash) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, digest, expiresAt, now); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// Exists reports whether digest is blacklisted and not yet expired at now.
func (r *TokenBlacklistRepository) Exists(ctx context.Context, digest string, now time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token_hash = $1 AND expires_at > $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, digest, now); err != nil {
		return false, fmt.Errorf("check token blacklist: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes entries whose token could no longer verify anyway.
func (r *TokenBlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM token_blacklist WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("prune token blacklist: %w", err)
	}
	return res.RowsAffected()
}
