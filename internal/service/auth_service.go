package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

const (
	tokenTypeBearer = "Bearer"
	timingDummy     = "authguard-timing-equaliser"
)

type credentialStore interface {
	FindByIdentifierWithSecret(ctx context.Context, identifier string) (*models.Credential, error)
	FindByID(ctx context.Context, id string) (*models.Credential, error)
}

type lockoutChecker interface {
	CheckLockout(ctx context.Context, identifier string) (models.LockoutStatus, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	RejectBots bool
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Credentials   credentialStore
	Hasher        hashing.Hasher
	Security      *SecurityService
	Lockout       lockoutChecker
	Sessions      *SessionService
	Tokens        *TokenService
	Blacklist     *BlacklistService
	Audit         *AuditService
	Notifications *NotificationService
	Metrics       *MetricsService
}

// AuthService provides authentication use cases.
type AuthService struct {
	credentials credentialStore
	hasher      hashing.Hasher
	security    *SecurityService
	lockout     lockoutChecker
	sessions    *SessionService
	tokens      *TokenService
	blacklist   *BlacklistService
	audit       *AuditService
	notifier    *NotificationService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	config      AuthConfig
	dummyHash   string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &AuthService{
		credentials: deps.Credentials,
		hasher:      deps.Hasher,
		security:    deps.Security,
		lockout:     deps.Lockout,
		sessions:    deps.Sessions,
		tokens:      deps.Tokens,
		blacklist:   deps.Blacklist,
		audit:       deps.Audit,
		notifier:    deps.Notifications,
		metrics:     deps.Metrics,
		validator:   validate,
		logger:      logger,
		config:      config,
	}
	if hash, err := deps.Hasher.Hash(timingDummy); err == nil {
		svc.dummyHash = hash
	} else {
		logger.Warn("failed to prepare timing hash", zap.Error(err))
	}
	return svc
}

// Login authenticates a credential and opens or reuses the device session.
// Every outcome past payload validation is written to the attempt ledger
// exactly once, except internal failures before the credential was verified.
// A verified login that cannot open its session is recorded as session_error.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	identifier := NormalizeIdentifier(req.Identifier)

	check, err := s.security.PerformCheck(ctx, identifier, req.Request, models.CheckOptions{RejectBots: s.config.RejectBots})
	device := check.Device
	actx := models.AuditContext{IPAddress: device.IPAddress, UserAgent: device.UserAgent}
	if err != nil {
		if isInternal(err) {
			return nil, err
		}
		s.recordRejection(ctx, identifier, device, actx, check, err)
		return nil, err
	}

	if len(check.SuspiciousIPs) > 0 {
		s.audit.LogSuspiciousActivity(ctx, nil, actx, "ip_diversity", map[string]interface{}{
			"identifier":   identifier,
			"distinct_ips": len(check.SuspiciousIPs),
		})
	}

	cred, err := s.credentials.FindByIdentifierWithSecret(ctx, identifier)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !s.verifySecret(req.Password, cred) {
		return nil, s.failCredential(ctx, identifier, cred, device, actx, ErrBadCredentials)
	}
	if !cred.Active() {
		return nil, s.failCredential(ctx, identifier, cred, device, actx, ErrAccountInactive)
	}

	issue, err := s.sessions.FindOrCreate(ctx, cred.ID, device, req.RememberMe)
	if err != nil {
		return nil, s.failSession(ctx, identifier, cred, device, actx, err)
	}
	accessToken, _, err := s.tokens.IssueAccess(cred.Subject(), issue.Session.ID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
		return nil, s.failSession(ctx, identifier, cred, device, actx, err)
	}

	userID := cred.ID
	_ = s.security.LogAttempt(ctx, models.LoginAttemptInput{
		Identifier: identifier,
		UserID:     &userID,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		Success:    true,
	})

	actx.SessionID = issue.Session.ID
	s.audit.LogLoginSuccess(ctx, cred.ID, actx, issue.Created)

	if issue.Created {
		s.notifier.Send(ctx, cred.Email, NotifyNewDeviceLogin, map[string]interface{}{
			"ip_address":  device.IPAddress,
			"browser":     device.Browser,
			"os":          device.OS,
			"device_type": device.DeviceType,
			"at":          issue.Session.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return &models.LoginResponse{
		AccessToken:      accessToken,
		RefreshToken:     issue.RefreshToken,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.tokens.AccessTTL().Seconds()),
		RefreshExpiresAt: issue.RefreshExpiresAt,
		SessionID:        issue.Session.ID,
		NewDevice:        issue.Created,
		User:             userInfo(cred),
	}, nil
}

// Refresh rotates a refresh token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	device := s.security.Fingerprint(req.Request)
	pair, err := s.sessions.Rotate(ctx, req.RefreshToken, device)
	if err != nil {
		return nil, err
	}

	s.audit.LogTokenRefresh(ctx, pair.UserID, models.AuditContext{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		SessionID: pair.SessionID,
	})

	return &models.RefreshTokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.tokens.AccessTTL().Seconds()),
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// Logout blacklists the presented access token and revokes its session.
func (s *AuthService) Logout(ctx context.Context, accessToken string, claims *models.AccessClaims, req models.RequestContext) error {
	if err := s.blacklist.Blacklist(ctx, accessToken); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeSession(ctx, claims.SessionID); err != nil {
		return err
	}
	s.audit.LogLogout(ctx, claims.UserID, newAuditContext(req, claims.SessionID))
	return nil
}

// LogoutAll blacklists the presented access token and revokes every session
// of the user.
func (s *AuthService) LogoutAll(ctx context.Context, accessToken string, claims *models.AccessClaims, req models.RequestContext) (int, error) {
	if err := s.blacklist.Blacklist(ctx, accessToken); err != nil {
		return 0, err
	}
	revoked, err := s.sessions.RevokeAllSessions(ctx, claims.UserID)
	if err != nil {
		return 0, err
	}
	s.audit.LogLogoutAll(ctx, claims.UserID, newAuditContext(req, claims.SessionID), revoked)
	return revoked, nil
}

// Me returns the current user profile.
func (s *AuthService) Me(ctx context.Context, claims *models.AccessClaims) (*models.UserInfo, error) {
	cred, err := s.credentials.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := userInfo(cred)
	return &info, nil
}

// ListSessions returns the caller's active sessions with the current one
// marked.
func (s *AuthService) ListSessions(ctx context.Context, claims *models.AccessClaims) ([]models.SessionView, error) {
	sessions, err := s.sessions.ListActiveSessions(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, models.NewSessionView(session, claims.SessionID))
	}
	return views, nil
}

// RevokeUserSession revokes one of the caller's own sessions. Sessions of
// other users are reported as not found.
func (s *AuthService) RevokeUserSession(ctx context.Context, claims *models.AccessClaims, sessionID string, req models.RequestContext) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != claims.UserID {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	if _, err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	s.audit.LogSessionRevoked(ctx, claims.UserID, newAuditContext(req, claims.SessionID), sessionID, "user_request")
	return nil
}

// LogoutOthers revokes every session of the caller except the current one.
func (s *AuthService) LogoutOthers(ctx context.Context, claims *models.AccessClaims, req models.RequestContext) (int, error) {
	revoked, err := s.sessions.RevokeOtherSessions(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, models.AuditSessionRevoked, &claims.UserID, newAuditContext(req, claims.SessionID), map[string]interface{}{
		"scope":            "others",
		"sessions_revoked": revoked,
	})
	return revoked, nil
}

// Authenticate resolves an access token into claims. Blacklisted tokens,
// invalid signatures and tokens of inactive sessions are all rejected with
// the same error.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.AccessClaims, error) {
	unauthorized := appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	if accessToken == "" {
		return nil, unauthorized
	}

	listed, err := s.blacklist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if listed {
		return nil, unauthorized
	}

	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, unauthorized
	}

	active, err := s.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, unauthorized
	}
	return claims, nil
}

// PerformSecurityCheck runs the pre-authentication checkpoint.
func (s *AuthService) PerformSecurityCheck(ctx context.Context, identifier string, req models.RequestContext, opts models.CheckOptions) (*models.SecurityCheckResult, error) {
	return s.security.PerformCheck(ctx, identifier, req, opts)
}

// CreateSession opens a session for an already verified user.
func (s *AuthService) CreateSession(ctx context.Context, userID string, req models.RequestContext, rememberMe bool) (*models.SessionIssue, error) {
	return s.sessions.CreateSession(ctx, userID, s.security.Fingerprint(req), rememberMe)
}

// Rotate exchanges a refresh token without auditing.
func (s *AuthService) Rotate(ctx context.Context, rawRefresh string, req models.RequestContext) (*models.TokenPair, error) {
	return s.sessions.Rotate(ctx, rawRefresh, s.security.Fingerprint(req))
}

// RevokeSession revokes a session by id without ownership checks.
func (s *AuthService) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.RevokeSession(ctx, sessionID)
}

// RevokeAllSessions revokes every session of userID.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeAllSessions(ctx, userID)
}

// RevokeOtherSessions revokes the sessions of userID except keepSessionID.
func (s *AuthService) RevokeOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error) {
	return s.sessions.RevokeOtherSessions(ctx, userID, keepSessionID)
}

// Blacklist revokes an access token.
func (s *AuthService) Blacklist(ctx context.Context, accessToken string) error {
	return s.blacklist.Blacklist(ctx, accessToken)
}

// IsBlacklisted reports whether an access token was revoked.
func (s *AuthService) IsBlacklisted(ctx context.Context, accessToken string) (bool, error) {
	return s.blacklist.IsBlacklisted(ctx, accessToken)
}

// LogAttempt appends to the attempt ledger.
func (s *AuthService) LogAttempt(ctx context.Context, input models.LoginAttemptInput) error {
	return s.security.LogAttempt(ctx, input)
}

// LogAuditEvent appends to the audit trail.
func (s *AuthService) LogAuditEvent(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{}) error {
	return s.audit.LogEvent(ctx, eventType, userID, actx, metadata)
}

// verifySecret runs a hash comparison even for unknown identifiers so the
// response time does not reveal whether an account exists.
func (s *AuthService) verifySecret(password string, cred *models.Credential) bool {
	hash := s.dummyHash
	if cred != nil {
		hash = cred.SecretHash
	}
	if hash == "" {
		return false
	}
	ok, err := s.hasher.Verify(password, hash)
	if err != nil {
		s.logger.Error("stored credential hash is unreadable", zap.Error(err))
		return false
	}
	return ok && cred != nil
}

// recordRejection logs an attempt the checkpoint refused before any
// credential was looked at.
func (s *AuthService) recordRejection(ctx context.Context, identifier string, device models.DeviceInfo, actx models.AuditContext, check *models.SecurityCheckResult, err error) {
	reason := FailureReason(err)
	_ = s.security.LogAttempt(ctx, models.LoginAttemptInput{
		Identifier:    identifier,
		IPAddress:     device.IPAddress,
		UserAgent:     device.UserAgent,
		FailureReason: reason,
	})

	switch {
	case errors.Is(err, ErrIdentifierThrottled):
		s.audit.LogRateLimited(ctx, identifier, nil, actx, reason, check.IdentifierLimit.RetryAfter)
	case errors.Is(err, ErrIPThrottled):
		s.audit.LogRateLimited(ctx, identifier, nil, actx, reason, check.IPLimit.RetryAfter)
	case errors.Is(err, ErrBotRejected):
		s.audit.LogSuspiciousActivity(ctx, nil, actx, reason, map[string]interface{}{"identifier": identifier})
		s.audit.LogLoginFailure(ctx, identifier, nil, actx, reason)
	default:
		s.audit.LogLoginFailure(ctx, identifier, nil, actx, reason)
	}
}

// failCredential records a failed credential or status check and reports a
// lockout the first time this failure reaches the threshold.
func (s *AuthService) failCredential(ctx context.Context, identifier string, cred *models.Credential, device models.DeviceInfo, actx models.AuditContext, cause error) error {
	reason := FailureReason(cause)
	var userID *string
	if cred != nil {
		id := cred.ID
		userID = &id
	}

	_ = s.security.LogAttempt(ctx, models.LoginAttemptInput{
		Identifier:    identifier,
		UserID:        userID,
		IPAddress:     device.IPAddress,
		UserAgent:     device.UserAgent,
		FailureReason: reason,
	})
	s.audit.LogLoginFailure(ctx, identifier, userID, actx, reason)

	if errors.Is(cause, ErrBadCredentials) {
		s.reportLockout(ctx, identifier, cred, userID, actx)
	}
	return appErrors.WithCause(appErrors.ErrInvalidCredentials, cause)
}

// failSession records a login whose credential was accepted but whose session
// or access token could not be issued. The attempt does not count toward
// rate limits or lockout.
func (s *AuthService) failSession(ctx context.Context, identifier string, cred *models.Credential, device models.DeviceInfo, actx models.AuditContext, cause error) error {
	userID := cred.ID
	_ = s.security.LogAttempt(ctx, models.LoginAttemptInput{
		Identifier:    identifier,
		UserID:        &userID,
		IPAddress:     device.IPAddress,
		UserAgent:     device.UserAgent,
		FailureReason: models.FailureSessionError,
	})
	s.audit.LogLoginFailure(ctx, identifier, &userID, actx, models.FailureSessionError)
	s.logger.Error("failed to complete verified login", zap.String("user_id", userID), zap.Error(cause))
	return cause
}

func (s *AuthService) reportLockout(ctx context.Context, identifier string, cred *models.Credential, userID *string, actx models.AuditContext) {
	status, err := s.lockout.CheckLockout(ctx, identifier)
	if err != nil {
		s.logger.Warn("failed to evaluate lockout after failure", zap.Error(err))
		return
	}
	if !status.Locked || status.Failures != status.Threshold {
		return
	}

	s.audit.LogAccountLocked(ctx, identifier, userID, actx, status.Failures, status.UnlockAt)
	if cred != nil {
		data := map[string]interface{}{"ip_address": actx.IPAddress}
		if status.UnlockAt != nil {
			data["unlock_at"] = status.UnlockAt.UTC().Format(time.RFC3339)
		}
		s.notifier.Send(ctx, cred.Email, NotifyAccountLocked, data)
	}
}

func newAuditContext(req models.RequestContext, sessionID string) models.AuditContext {
	return models.AuditContext{
		IPAddress: ResolveClientIP(req),
		UserAgent: req.UserAgent,
		SessionID: sessionID,
	}
}

func userInfo(cred *models.Credential) models.UserInfo {
	return models.UserInfo{
		ID:          cred.ID,
		Email:       cred.Email,
		Username:    cred.Username,
		Role:        cred.Role,
		Permissions: cred.Permissions,
	}
}

func isInternal(err error) bool {
	return appErrors.FromError(err).Status >= http.StatusInternalServerError
}
