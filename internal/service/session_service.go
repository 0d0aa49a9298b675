package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/repository"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActiveByFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Reissue(ctx context.Context, id string, device models.DeviceInfo, expiresAt, at time.Time, next *models.RefreshToken) error
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, keepID string, at time.Time) ([]string, error)
}

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindValid(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error
	RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) (int64, error)
}

type credentialFinder interface {
	FindByID(ctx context.Context, id string) (*models.Credential, error)
}

type auditRecorder interface {
	Record(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{})
}

// SessionConfig tunes session lifetimes and reuse handling.
type SessionConfig struct {
	DefaultTTL       time.Duration
	RememberTTL      time.Duration
	RevokeOnReuse    bool
	ReuseGracePeriod time.Duration
}

// SessionService manages device sessions and their refresh token chains.
type SessionService struct {
	sessions    sessionStore
	tokens      refreshTokenStore
	credentials credentialFinder
	codec       *TokenService
	audit       auditRecorder
	metrics     *MetricsService
	logger      *zap.Logger
	config      SessionConfig
	now         func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions sessionStore, tokens refreshTokenStore, credentials credentialFinder, codec *TokenService, audit auditRecorder, metrics *MetricsService, logger *zap.Logger, cfg SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 7 * 24 * time.Hour
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = 30 * 24 * time.Hour
	}
	if cfg.ReuseGracePeriod < 0 {
		cfg.ReuseGracePeriod = 0
	}
	return &SessionService{
		sessions:    sessions,
		tokens:      tokens,
		credentials: credentials,
		codec:       codec,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		config:      cfg,
		now:         time.Now,
	}
}

var errInvalidRefresh = appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")

// CreateSession opens a new session and issues its first refresh token. The
// raw token is only available on the returned issue.
func (s *SessionService) CreateSession(ctx context.Context, userID string, device models.DeviceInfo, rememberMe bool) (*models.SessionIssue, error) {
	now := s.now().UTC()
	session := &models.Session{
		UserID:            userID,
		DeviceFingerprint: device.Fingerprint,
		IPAddress:         device.IPAddress,
		UserAgent:         device.UserAgent,
		RememberMe:        rememberMe,
		LastUsedAt:        now,
		ExpiresAt:         now.Add(s.ttl(rememberMe)),
		CreatedAt:         now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	raw, expiresAt, err := s.issueRefresh(ctx, session, now)
	if err != nil {
		if _, revokeErr := s.sessions.Revoke(ctx, session.ID, now); revokeErr != nil {
			s.logger.Warn("failed to revoke session without refresh token", zap.String("session_id", session.ID), zap.Error(revokeErr))
		}
		return nil, err
	}

	s.metrics.RecordSession("created", 1)
	return &models.SessionIssue{Session: session, RefreshToken: raw, RefreshExpiresAt: expiresAt, Created: true}, nil
}

// FindOrCreate reuses the user's active session for the same device: its
// expiry is extended, its old refresh tokens are revoked and a fresh one is
// issued in a single store write. Otherwise a new session is created.
func (s *SessionService) FindOrCreate(ctx context.Context, userID string, device models.DeviceInfo, rememberMe bool) (*models.SessionIssue, error) {
	now := s.now().UTC()
	existing, err := s.sessions.FindActiveByFingerprint(ctx, userID, device.Fingerprint, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up session")
	}
	if existing == nil {
		return s.CreateSession(ctx, userID, device, rememberMe)
	}

	expiresAt := now.Add(s.ttl(rememberMe || existing.RememberMe))
	if expiresAt.Before(existing.ExpiresAt) {
		expiresAt = existing.ExpiresAt
	}
	existing.ExpiresAt = expiresAt
	existing.LastUsedAt = now
	existing.IPAddress = device.IPAddress
	existing.UserAgent = device.UserAgent
	existing.RememberMe = existing.RememberMe || rememberMe

	raw, record, err := s.newRefreshRecord(existing, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Reissue(ctx, existing.ID, device, expiresAt, now, record); err != nil {
		if errors.Is(err, repository.ErrSessionNotActive) {
			return s.CreateSession(ctx, userID, device, rememberMe)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reissue session")
	}

	s.metrics.RecordSession("reused", 1)
	return &models.SessionIssue{Session: existing, RefreshToken: raw, RefreshExpiresAt: record.ExpiresAt, Created: false}, nil
}

// Rotate exchanges a refresh token for a new token pair. Every failure maps
// to the same generic error.
func (s *SessionService) Rotate(ctx context.Context, rawRefresh string, device models.DeviceInfo) (*models.TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		s.metrics.RecordRotation("invalid")
		return nil, errInvalidRefresh
	}

	now := s.now().UTC()
	digest := hashing.TokenDigest(rawRefresh)

	current, err := s.tokens.FindValid(ctx, digest, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.detectReuse(ctx, digest, claims.Subject, device, now)
			s.metrics.RecordRotation("rejected")
			return nil, errInvalidRefresh
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	session, err := s.sessions.FindByID(ctx, current.SessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.IsActive(now) || session.UserID != claims.Subject {
		s.metrics.RecordRotation("rejected")
		return nil, errInvalidRefresh
	}

	cred, err := s.credentials.FindByID(ctx, session.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !cred.Active() {
		if _, revokeErr := s.sessions.Revoke(ctx, session.ID, now); revokeErr != nil {
			s.logger.Warn("failed to revoke session of inactive user", zap.String("session_id", session.ID), zap.Error(revokeErr))
		}
		s.metrics.RecordRotation("rejected")
		return nil, errInvalidRefresh
	}

	refreshExpiresAt := s.refreshExpiry(session, now)
	nextRaw, err := s.codec.IssueRefresh(session.UserID, refreshExpiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	next := &models.RefreshToken{TokenHash: hashing.TokenDigest(nextRaw), ExpiresAt: refreshExpiresAt}
	if err := s.tokens.Rotate(ctx, digest, next, now); err != nil {
		if errors.Is(err, repository.ErrTokenNotRotatable) {
			s.metrics.RecordRotation("lost_race")
			return nil, errInvalidRefresh
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.Warn("failed to touch session", zap.String("session_id", session.ID), zap.Error(err))
	}

	access, accessExpiresAt, err := s.codec.IssueAccess(cred.Subject(), session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.metrics.RecordRotation("success")
	return &models.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: refreshExpiresAt,
		SessionID:        session.ID,
		UserID:           session.UserID,
	}, nil
}

// detectReuse revokes the session of a superseded token presented after the
// grace period. Replays inside the grace period are treated as a benign
// concurrent refresh.
func (s *SessionService) detectReuse(ctx context.Context, digest, userID string, device models.DeviceInfo, now time.Time) {
	record, err := s.tokens.FindByHash(ctx, digest)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to inspect refresh token for reuse", zap.Error(err))
		}
		return
	}
	if record.RotatedAt == nil || now.Sub(*record.RotatedAt) <= s.config.ReuseGracePeriod {
		return
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("session_id", record.SessionID),
		zap.String("ip", device.IPAddress),
	)

	revoked := false
	if s.config.RevokeOnReuse {
		var revokeErr error
		revoked, revokeErr = s.sessions.Revoke(ctx, record.SessionID, now)
		if revokeErr != nil {
			s.logger.Error("failed to revoke session after token reuse", zap.String("session_id", record.SessionID), zap.Error(revokeErr))
		}
		if revoked {
			s.metrics.RecordSession("revoked", 1)
		}
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditSuspiciousActivity, &userID, models.AuditContext{
			IPAddress: device.IPAddress,
			UserAgent: device.UserAgent,
			SessionID: record.SessionID,
		}, map[string]interface{}{
			"reason":          "refresh_token_reuse",
			"session_revoked": revoked,
		})
	}
}

// RevokeSession revokes one session and its refresh tokens. Revoking an
// already revoked session reports false without error.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	revoked, err := s.sessions.Revoke(ctx, sessionID, s.now().UTC())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}
	if revoked {
		s.metrics.RecordSession("revoked", 1)
	}
	return revoked, nil
}

// RevokeAllSessions revokes every active session of the user.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	return s.revokeForUser(ctx, userID, "")
}

// RevokeOtherSessions revokes every active session except keepSessionID.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error) {
	if keepSessionID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "current session is required")
	}
	return s.revokeForUser(ctx, userID, keepSessionID)
}

func (s *SessionService) revokeForUser(ctx context.Context, userID, keepID string) (int, error) {
	ids, err := s.sessions.RevokeAllForUser(ctx, userID, keepID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	s.metrics.RecordSession("revoked", len(ids))
	return len(ids), nil
}

// ListActiveSessions returns the user's active sessions.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// GetSession returns a session in any state.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// IsActive reports whether the session exists, is not revoked and has not
// expired.
func (s *SessionService) IsActive(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session.IsActive(s.now().UTC()), nil
}

func (s *SessionService) issueRefresh(ctx context.Context, session *models.Session, now time.Time) (string, time.Time, error) {
	raw, record, err := s.newRefreshRecord(session, now)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return raw, record.ExpiresAt, nil
}

func (s *SessionService) newRefreshRecord(session *models.Session, now time.Time) (string, *models.RefreshToken, error) {
	expiresAt := s.refreshExpiry(session, now)
	raw, err := s.codec.IssueRefresh(session.UserID, expiresAt)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	return raw, &models.RefreshToken{
		SessionID: session.ID,
		TokenHash: hashing.TokenDigest(raw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// refreshExpiry caps the refresh lifetime at the session expiry.
func (s *SessionService) refreshExpiry(session *models.Session, now time.Time) time.Time {
	expiresAt := now.Add(s.codec.RefreshTTL())
	if session.ExpiresAt.Before(expiresAt) {
		expiresAt = session.ExpiresAt
	}
	return expiresAt
}

func (s *SessionService) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		return s.config.RememberTTL
	}
	return s.config.DefaultTTL
}
