package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/middleware/requestid"
)

const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 100
	defaultAuditLimit    = 100
	maxAuditLimit        = 1000
	securityLookback     = 24 * time.Hour
)

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditLog, int, error)
	ListByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]models.AuditLog, error)
	ListByIP(ctx context.Context, ip string, limit int) ([]models.AuditLog, error)
	ListByEventTypes(ctx context.Context, eventTypes []string, since time.Time, limit int) ([]models.AuditLog, error)
	Search(ctx context.Context, filter models.AuditExportFilter) ([]models.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService appends to and queries the audit trail.
type AuditService struct {
	repo      auditStore
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

// NewAuditService constructs an AuditService. Entries older than retention
// are removed by Prune.
func NewAuditService(repo auditStore, retention time.Duration, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = 365 * 24 * time.Hour
	}
	return &AuditService{repo: repo, logger: logger, retention: retention, now: time.Now}
}

// LogEvent appends one entry. metadata is any JSON-encodable value; the
// request id carried by ctx is merged in.
func (s *AuditService) LogEvent(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{}) error {
	if !eventType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown audit event type %q", eventType))
	}

	encoded, err := encodeMetadata(metadata, requestid.FromContext(ctx))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "audit metadata is not serialisable")
	}

	entry := &models.AuditLog{
		EventType: eventType,
		UserID:    userID,
		IPAddress: actx.IPAddress,
		UserAgent: actx.UserAgent,
		Metadata:  encoded,
		CreatedAt: s.now().UTC(),
	}
	if actx.SessionID != "" {
		sessionID := actx.SessionID
		entry.SessionID = &sessionID
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	return nil
}

// Record is LogEvent for callers that must not fail because of auditing.
func (s *AuditService) Record(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{}) {
	if err := s.LogEvent(ctx, eventType, userID, actx, metadata); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// LogLoginSuccess records a completed login and whether it opened a new device session.
func (s *AuditService) LogLoginSuccess(ctx context.Context, userID string, actx models.AuditContext, newDevice bool) {
	s.Record(ctx, models.AuditLoginSuccess, &userID, actx, map[string]interface{}{"new_device": newDevice})
}

// LogLoginFailure records a failed login. userID is nil when the identifier
// matched no account.
func (s *AuditService) LogLoginFailure(ctx context.Context, identifier string, userID *string, actx models.AuditContext, reason string) {
	s.Record(ctx, models.AuditLoginFailed, userID, actx, map[string]interface{}{
		"identifier": identifier,
		"reason":     reason,
	})
}

// LogLogout records a single-session logout.
func (s *AuditService) LogLogout(ctx context.Context, userID string, actx models.AuditContext) {
	s.Record(ctx, models.AuditLogout, &userID, actx, nil)
}

// LogLogoutAll records a logout of every session with the revoked count.
func (s *AuditService) LogLogoutAll(ctx context.Context, userID string, actx models.AuditContext, revoked int) {
	s.Record(ctx, models.AuditLogoutAll, &userID, actx, map[string]interface{}{"sessions_revoked": revoked})
}

// LogTokenRefresh records a refresh token rotation.
func (s *AuditService) LogTokenRefresh(ctx context.Context, userID string, actx models.AuditContext) {
	s.Record(ctx, models.AuditTokenRefresh, &userID, actx, nil)
}

// LogSessionRevoked records the revocation of revokedSessionID.
func (s *AuditService) LogSessionRevoked(ctx context.Context, userID string, actx models.AuditContext, revokedSessionID, reason string) {
	s.Record(ctx, models.AuditSessionRevoked, &userID, actx, map[string]interface{}{
		"revoked_session_id": revokedSessionID,
		"reason":             reason,
	})
}

// LogPasswordChange records a self-service password change.
func (s *AuditService) LogPasswordChange(ctx context.Context, userID string, actx models.AuditContext) {
	s.Record(ctx, models.AuditPasswordChange, &userID, actx, nil)
}

// LogRoleChange is attributed to the target user; the actor goes into the
// metadata.
func (s *AuditService) LogRoleChange(ctx context.Context, actorID, targetID string, actx models.AuditContext, from, to models.UserRole) {
	s.Record(ctx, models.AuditRoleChange, &targetID, actx, map[string]interface{}{
		"actor_id": actorID,
		"from":     from,
		"to":       to,
	})
}

// LogAccountLocked records an identifier reaching the lockout threshold.
func (s *AuditService) LogAccountLocked(ctx context.Context, identifier string, userID *string, actx models.AuditContext, failures int, unlockAt *time.Time) {
	metadata := map[string]interface{}{
		"identifier": identifier,
		"failures":   failures,
	}
	if unlockAt != nil {
		metadata["unlock_at"] = unlockAt.UTC().Format(time.RFC3339)
	}
	s.Record(ctx, models.AuditAccountLocked, userID, actx, metadata)
}

// LogSuspiciousActivity records a heuristic hit such as bot traffic or IP diversity.
func (s *AuditService) LogSuspiciousActivity(ctx context.Context, userID *string, actx models.AuditContext, reason string, details map[string]interface{}) {
	metadata := map[string]interface{}{"reason": reason}
	for k, v := range details {
		metadata[k] = v
	}
	s.Record(ctx, models.AuditSuspiciousActivity, userID, actx, metadata)
}

// LogRateLimited records a request refused by an identifier or IP limit.
func (s *AuditService) LogRateLimited(ctx context.Context, identifier string, userID *string, actx models.AuditContext, reason string, retryAfter time.Duration) {
	s.Record(ctx, models.AuditRateLimited, userID, actx, map[string]interface{}{
		"identifier":          identifier,
		"reason":              reason,
		"retry_after_seconds": int(retryAfter.Round(time.Second) / time.Second),
	})
}

// ListByUser returns one page of the user's trail, newest first.
func (s *AuditService) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}
	if pageSize > maxAuditPageSize {
		pageSize = maxAuditPageSize
	}

	logs, total, err := s.repo.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ListByEventType returns up to limit entries of eventType, newest first.
func (s *AuditService) ListByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]models.AuditLog, error) {
	if !eventType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown audit event type %q", eventType))
	}
	logs, err := s.repo.ListByEventType(ctx, eventType, clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, nil
}

// ListByIP returns up to limit entries recorded from ip, newest first.
func (s *AuditService) ListByIP(ctx context.Context, ip string, limit int) ([]models.AuditLog, error) {
	if ip == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ip is required")
	}
	logs, err := s.repo.ListByIP(ctx, ip, clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, nil
}

// ListSecurityEvents returns security-relevant entries since the given time.
// A zero since looks back one day.
func (s *AuditService) ListSecurityEvents(ctx context.Context, since time.Time, limit int) ([]models.AuditLog, error) {
	if since.IsZero() {
		since = s.now().UTC().Add(-securityLookback)
	}
	logs, err := s.repo.ListByEventTypes(ctx, models.SecurityEventTypes(), since, clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list security events")
	}
	return logs, nil
}

// Search applies an export filter without paging defaults.
func (s *AuditService) Search(ctx context.Context, filter models.AuditExportFilter) ([]models.AuditLog, error) {
	logs, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search audit logs")
	}
	return logs, nil
}

// Prune deletes entries older than the retention window.
func (s *AuditService) Prune(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteOlderThan(ctx, s.now().UTC().Add(-s.retention))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune audit logs")
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultAuditLimit
	}
	if limit > maxAuditLimit {
		return maxAuditLimit
	}
	return limit
}

func encodeMetadata(metadata interface{}, requestID string) (types.JSONText, error) {
	fields := map[string]interface{}{}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			// non-object payloads are kept under a single key
			fields = map[string]interface{}{"value": json.RawMessage(raw)}
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if len(fields) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return types.JSONText(encoded), nil
}
