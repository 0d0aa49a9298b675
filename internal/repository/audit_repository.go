package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/authguard-api/internal/models"
)

const auditColumns = `id, event_type, user_id, ip_address, user_agent, session_id, COALESCE(metadata, '{}'::jsonb) AS metadata, created_at`

// AuditRepository persists the append-only audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	var metadata interface{}
	if len(log.Metadata) > 0 {
		metadata = []byte(log.Metadata)
	}
	const query = `INSERT INTO audit_logs (id, event_type, user_id, ip_address, user_agent, session_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, log.ID, log.EventType, log.UserID, log.IPAddress, log.UserAgent, log.SessionID, metadata, log.CreatedAt); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByUser returns a page of the user's audit entries plus the total count.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLog, int, error) {
	const countQuery = `SELECT COUNT(*) FROM audit_logs WHERE user_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("count user audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list user audit logs: %w", err)
	}
	return logs, total, nil
}

// ListByEventType returns the newest entries of one type.
func (r *AuditRepository) ListByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE event_type = $1 ORDER BY created_at DESC LIMIT $2`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, eventType, limit); err != nil {
		return nil, fmt.Errorf("list audit logs by type: %w", err)
	}
	return logs, nil
}

// ListByIP returns the newest entries recorded from ip.
func (r *AuditRepository) ListByIP(ctx context.Context, ip string, limit int) ([]models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE ip_address = $1 ORDER BY created_at DESC LIMIT $2`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, ip, limit); err != nil {
		return nil, fmt.Errorf("list audit logs by ip: %w", err)
	}
	return logs, nil
}

// ListByEventTypes returns entries of any of the given types created at or
// after since.
func (r *AuditRepository) ListByEventTypes(ctx context.Context, eventTypes []string, since time.Time, limit int) ([]models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE event_type = ANY($1) AND created_at >= $2 ORDER BY created_at DESC LIMIT $3`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, pq.Array(eventTypes), since, limit); err != nil {
		return nil, fmt.Errorf("list audit logs by types: %w", err)
	}
	return logs, nil
}

// Search applies an export filter.
func (r *AuditRepository) Search(ctx context.Context, filter models.AuditExportFilter) ([]models.AuditLog, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`)

	var args []interface{}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		fmt.Fprintf(&query, " AND created_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		fmt.Fprintf(&query, " AND created_at < $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		fmt.Fprintf(&query, " AND user_id = $%d", len(args))
	}
	if len(filter.EventTypes) > 0 {
		args = append(args, pq.Array(filter.EventTypes))
		fmt.Fprintf(&query, " AND event_type = ANY($%d)", len(args))
	}
	query.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query.String(), args...); err != nil {
		return nil, fmt.Errorf("search audit logs: %w", err)
	}
	return logs, nil
}

// DeleteOlderThan prunes entries created before cutoff. It is the only path
// that removes audit rows.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_logs WHERE created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit logs: %w", err)
	}
	return res.RowsAffected()
}
