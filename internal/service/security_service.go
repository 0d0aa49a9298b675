package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
)

// Reasons a security check or login can fail. They travel as the cause of the
// public error and never reach the client.
var (
	ErrBotRejected         = errors.New("automated client rejected")
	ErrIdentifierThrottled = errors.New("too many failed attempts for identifier")
	ErrIPThrottled         = errors.New("too many failed attempts from address")
	ErrAccountLocked       = errors.New("account temporarily locked")
	ErrAccountInactive     = errors.New("account inactive")
	ErrBadCredentials      = errors.New("credential mismatch")
)

type rateChecker interface {
	CheckIdentifier(ctx context.Context, identifier string) (models.RateLimitStatus, error)
	CheckIP(ctx context.Context, ip string) (models.RateLimitStatus, error)
	CheckLockout(ctx context.Context, identifier string) (models.LockoutStatus, error)
	SuspiciousIPs(ctx context.Context, identifier string) ([]models.IPAttemptSummary, error)
}

type attemptWriter interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) error
}

// SecurityService runs the pre-authentication checkpoint and owns the
// attempt ledger writes.
type SecurityService struct {
	fingerprinter *DeviceFingerprinter
	gate          rateChecker
	ledger        attemptWriter
	metrics       *MetricsService
	logger        *zap.Logger
}

// NewSecurityService constructs the checkpoint.
func NewSecurityService(fingerprinter *DeviceFingerprinter, gate rateChecker, ledger attemptWriter, metrics *MetricsService, logger *zap.Logger) *SecurityService {
	if fingerprinter == nil {
		fingerprinter = NewDeviceFingerprinter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityService{fingerprinter: fingerprinter, gate: gate, ledger: ledger, metrics: metrics, logger: logger}
}

// PerformCheck fingerprints the request and applies, in order, bot rejection,
// the identifier limit, the IP limit and the lockout. The first failing check
// ends evaluation. The partial result is returned alongside any error so the
// caller can still record the attempt against the device.
func (s *SecurityService) PerformCheck(ctx context.Context, identifier string, req models.RequestContext, opts models.CheckOptions) (*models.SecurityCheckResult, error) {
	result := &models.SecurityCheckResult{Device: s.fingerprinter.Fingerprint(req)}

	if opts.RejectBots && result.Device.IsBot {
		s.metrics.RecordRateLimit("bot")
		return result, appErrors.WithCause(appErrors.ErrInvalidCredentials, ErrBotRejected)
	}

	idStatus, err := s.gate.CheckIdentifier(ctx, identifier)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate rate limit")
	}
	result.IdentifierLimit = idStatus
	if idStatus.Limited {
		s.metrics.RecordRateLimit("identifier")
		return result, throttled(ErrIdentifierThrottled, idStatus)
	}

	ipStatus, err := s.gate.CheckIP(ctx, result.Device.IPAddress)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate rate limit")
	}
	result.IPLimit = ipStatus
	if ipStatus.Limited {
		s.metrics.RecordRateLimit("ip")
		return result, throttled(ErrIPThrottled, ipStatus)
	}

	lockout, err := s.gate.CheckLockout(ctx, identifier)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate lockout")
	}
	result.Lockout = lockout
	if lockout.Locked {
		s.metrics.RecordRateLimit("lockout")
		return result, appErrors.WithCause(appErrors.ErrInvalidCredentials, ErrAccountLocked)
	}

	suspicious, err := s.gate.SuspiciousIPs(ctx, identifier)
	if err != nil {
		s.logger.Warn("failed to evaluate address diversity", zap.Error(err))
	}
	result.SuspiciousIPs = suspicious

	return result, nil
}

// Fingerprint derives device information without running any checks.
func (s *SecurityService) Fingerprint(req models.RequestContext) models.DeviceInfo {
	return s.fingerprinter.Fingerprint(req)
}

// LogAttempt appends one ledger row. Failures are logged at error level and
// returned; the login flow continues regardless.
func (s *SecurityService) LogAttempt(ctx context.Context, input models.LoginAttemptInput) error {
	attempt := &models.LoginAttempt{
		UserID:     input.UserID,
		Identifier: NormalizeIdentifier(input.Identifier),
		IPAddress:  input.IPAddress,
		UserAgent:  input.UserAgent,
		Success:    input.Success,
	}
	if !input.Success && input.FailureReason != "" {
		reason := input.FailureReason
		attempt.FailureReason = &reason
	}

	outcome := "success"
	if !input.Success {
		outcome = "failure"
	}
	s.metrics.RecordLoginAttempt(outcome)

	if err := s.ledger.Create(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			zap.String("ip", input.IPAddress),
			zap.Bool("success", input.Success),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// FailureReason maps a login error to the ledger reason.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrBotRejected):
		return models.FailureBotDetected
	case errors.Is(err, ErrIdentifierThrottled):
		return models.FailureRateLimited
	case errors.Is(err, ErrIPThrottled):
		return models.FailureIPRateLimited
	case errors.Is(err, ErrAccountLocked):
		return models.FailureAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return models.FailureAccountInactive
	default:
		return models.FailureInvalidCredentials
	}
}

func throttled(reason error, status models.RateLimitStatus) *appErrors.Error {
	return appErrors.WithRetryAfter(appErrors.WithCause(appErrors.ErrRateLimited, reason), status.RetryAfter)
}
