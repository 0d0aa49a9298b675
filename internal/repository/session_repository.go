package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/authguard-api/internal/models"
)

// ErrSessionNotActive is returned when a session expected to be active was
// revoked before the write.
var ErrSessionNotActive = errors.New("session not active")

const sessionColumns = `id, user_id, device_fingerprint, ip_address, user_agent, remember_me, last_used_at, expires_at, revoked_at, created_at`

// SessionRepository persists device sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session, assigning an id when missing.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.LastUsedAt.IsZero() {
		session.LastUsedAt = session.CreatedAt
	}

	const query = `INSERT INTO sessions (id, user_id, device_fingerprint, ip_address, user_agent, remember_me, last_used_at, expires_at, created_at)
VALUES (:id, :user_id, :device_fingerprint, :ip_address, :user_agent, :remember_me, :last_used_at, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session in any state. Missing rows yield sql.ErrNoRows.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// FindActiveByFingerprint returns the most recently used active session of the
// user for a device, or nil when there is none.
func (r *SessionRepository) FindActiveByFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1 AND device_fingerprint = $2 AND revoked_at IS NULL AND expires_at > $3
ORDER BY last_used_at DESC LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, userID, fingerprint, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session by fingerprint: %w", err)
	}
	return &session, nil
}

// ListActiveByUser returns the user's active sessions, newest activity first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY last_used_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Touch records activity on a session.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET last_used_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Reissue extends an active session, refreshes its client attributes and
// replaces its refresh tokens with next, all in one transaction. It returns
// ErrSessionNotActive when the session was revoked in the meantime.
func (r *SessionRepository) Reissue(ctx context.Context, id string, device models.DeviceInfo, expiresAt, at time.Time, next *models.RefreshToken) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reissue session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const sessionQuery = `UPDATE sessions SET expires_at = $2, ip_address = $3, user_agent = $4, last_used_at = $5
WHERE id = $1 AND revoked_at IS NULL`
	res, err := tx.ExecContext(ctx, sessionQuery, id, expiresAt, device.IPAddress, device.UserAgent, at)
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend session rows: %w", err)
	}
	if affected == 0 {
		err = ErrSessionNotActive
		return err
	}

	const revokeQuery = `UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`
	if _, err = tx.ExecContext(ctx, revokeQuery, id, at); err != nil {
		return fmt.Errorf("revoke previous refresh tokens: %w", err)
	}

	next.SessionID = id
	prepareRefreshToken(next)
	const insertQuery = `INSERT INTO refresh_tokens (id, session_id, token_hash, expires_at, created_at)
VALUES (:id, :session_id, :token_hash, :expires_at, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, next); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reissue session: %w", err)
	}
	return nil
}

// Revoke marks the session and all of its refresh tokens revoked in one
// transaction. It returns false when the session was already revoked.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) (revoked bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin revoke session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const sessionQuery = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	res, err := tx.ExecContext(ctx, sessionQuery, id, at)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session rows: %w", err)
	}

	const tokenQuery = `UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`
	if _, err = tx.ExecContext(ctx, tokenQuery, id, at); err != nil {
		return false, fmt.Errorf("revoke session tokens: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit revoke session: %w", err)
	}
	return affected > 0, nil
}

// RevokeAllForUser revokes every active session of the user except keepID
// (empty keeps none) and their refresh tokens. It returns the revoked ids.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, keepID string, at time.Time) (ids []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin revoke user sessions: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const sessionQuery = `UPDATE sessions SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL AND ($3::text = '' OR id::text <> $3::text)
RETURNING id`
	if err = tx.SelectContext(ctx, &ids, sessionQuery, userID, at, keepID); err != nil {
		return nil, fmt.Errorf("revoke user sessions: %w", err)
	}

	if len(ids) > 0 {
		const tokenQuery = `UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = ANY($1) AND revoked_at IS NULL`
		if _, err = tx.ExecContext(ctx, tokenQuery, pq.Array(ids), at); err != nil {
			return nil, fmt.Errorf("revoke user session tokens: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit revoke user sessions: %w", err)
	}
	return ids, nil
}

// DeleteStale removes sessions that expired or were revoked before cutoff,
// together with their refresh tokens.
func (r *SessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune sessions: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const tokenQuery = `DELETE FROM refresh_tokens WHERE session_id IN (
	SELECT id FROM sessions WHERE expires_at < $1 OR revoked_at < $1
)`
	if _, err = tx.ExecContext(ctx, tokenQuery, cutoff); err != nil {
		return 0, fmt.Errorf("prune session tokens: %w", err)
	}

	const sessionQuery = `DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`
	res, err := tx.ExecContext(ctx, sessionQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if deleted, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("prune sessions rows: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune sessions: %w", err)
	}
	return deleted, nil
}
