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

// LoginAttemptRepository is the append-only ledger of authentication attempts.
type LoginAttemptRepository struct {
	db *sqlx.DB
}

// NewLoginAttemptRepository constructs the repository.
func NewLoginAttemptRepository(db *sqlx.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Create appends an attempt.
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO login_attempts (id, user_id, identifier, ip_address, user_agent, success, failure_reason, created_at)
VALUES (:id, :user_id, :identifier, :ip_address, :user_agent, :success, :failure_reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create login attempt: %w", err)
	}
	return nil
}

// countedFailure selects the failures that count toward limits. Logins that
// failed on the server side after a successful credential check are excluded.
const countedFailure = `success = FALSE AND failure_reason IS DISTINCT FROM '` + models.FailureSessionError + `'`

// CountFailedByIdentifier counts failures for identifier since the given time.
func (r *LoginAttemptRepository) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM login_attempts WHERE identifier = $1 AND created_at >= $2 AND ` + countedFailure
	var count int
	if err := r.db.GetContext(ctx, &count, query, identifier, since); err != nil {
		return 0, fmt.Errorf("count failed attempts by identifier: %w", err)
	}
	return count, nil
}

// CountFailedByIP counts failures from ip since the given time.
func (r *LoginAttemptRepository) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM login_attempts WHERE ip_address = $1 AND created_at >= $2 AND ` + countedFailure
	var count int
	if err := r.db.GetContext(ctx, &count, query, ip, since); err != nil {
		return 0, fmt.Errorf("count failed attempts by ip: %w", err)
	}
	return count, nil
}

// NthFailedByIdentifier returns the time of the failure at offset (0 is the
// oldest) inside the window, or nil when there are not that many.
func (r *LoginAttemptRepository) NthFailedByIdentifier(ctx context.Context, identifier string, since time.Time, offset int) (*time.Time, error) {
	const query = `SELECT created_at FROM login_attempts WHERE identifier = $1 AND created_at >= $2 AND ` + countedFailure + `
ORDER BY created_at ASC OFFSET $3 LIMIT 1`
	return r.nth(ctx, query, identifier, since, offset)
}

// NthFailedByIP returns the time of the failure from ip at offset inside the
// window.
func (r *LoginAttemptRepository) NthFailedByIP(ctx context.Context, ip string, since time.Time, offset int) (*time.Time, error) {
	const query = `SELECT created_at FROM login_attempts WHERE ip_address = $1 AND created_at >= $2 AND ` + countedFailure + `
ORDER BY created_at ASC OFFSET $3 LIMIT 1`
	return r.nth(ctx, query, ip, since, offset)
}

func (r *LoginAttemptRepository) nth(ctx context.Context, query, key string, since time.Time, offset int) (*time.Time, error) {
	if offset < 0 {
		offset = 0
	}
	var at time.Time
	if err := r.db.GetContext(ctx, &at, query, key, since, offset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed attempt at offset: %w", err)
	}
	return &at, nil
}

// DistinctIPsForIdentifier groups failures for identifier by source address.
func (r *LoginAttemptRepository) DistinctIPsForIdentifier(ctx context.Context, identifier string, since time.Time) ([]models.IPAttemptSummary, error) {
	const query = `SELECT ip_address, COUNT(*) AS attempts, MAX(created_at) AS last_attempt
FROM login_attempts
WHERE identifier = $1 AND created_at >= $2 AND ` + countedFailure + `
GROUP BY ip_address
ORDER BY last_attempt DESC`
	var summaries []models.IPAttemptSummary
	if err := r.db.SelectContext(ctx, &summaries, query, identifier, since); err != nil {
		return nil, fmt.Errorf("distinct attempt ips: %w", err)
	}
	return summaries, nil
}

// DeleteOlderThan prunes attempts created before cutoff.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM login_attempts WHERE created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune login attempts: %w", err)
	}
	return res.RowsAffected()
}
