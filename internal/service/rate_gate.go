package service

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/authguard-api/internal/models"
)

type attemptCounter interface {
	CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error)
	NthFailedByIdentifier(ctx context.Context, identifier string, since time.Time, offset int) (*time.Time, error)
	NthFailedByIP(ctx context.Context, ip string, since time.Time, offset int) (*time.Time, error)
	DistinctIPsForIdentifier(ctx context.Context, identifier string, since time.Time) ([]models.IPAttemptSummary, error)
}

// RateGateConfig configures the sliding windows.
type RateGateConfig struct {
	MaxAttempts           int
	MaxIPAttempts         int
	Window                time.Duration
	LockoutThreshold      int
	LockoutWindow         time.Duration
	SuspiciousIPThreshold int
}

// RateGate evaluates sliding-window limits over the attempt ledger. Checks and
// the later append are not atomic, so concurrent bursts can overshoot a limit
// by the number of in-flight requests.
type RateGate struct {
	ledger attemptCounter
	config RateGateConfig
	now    func() time.Time
}

// NewRateGate constructs a RateGate, filling zero values with defaults.
func NewRateGate(ledger attemptCounter, cfg RateGateConfig) *RateGate {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxIPAttempts <= 0 {
		cfg.MaxIPAttempts = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 30 * time.Minute
	}
	if cfg.SuspiciousIPThreshold <= 0 {
		cfg.SuspiciousIPThreshold = 3
	}
	return &RateGate{ledger: ledger, config: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (g *RateGate) Config() RateGateConfig {
	return g.config
}

// CheckIdentifier counts failures for the normalised identifier.
func (g *RateGate) CheckIdentifier(ctx context.Context, identifier string) (models.RateLimitStatus, error) {
	identifier = NormalizeIdentifier(identifier)
	now := g.now().UTC()
	since := now.Add(-g.config.Window)

	count, err := g.ledger.CountFailedByIdentifier(ctx, identifier, since)
	if err != nil {
		return models.RateLimitStatus{}, err
	}
	status := newRateLimitStatus(count, g.config.MaxAttempts)
	if !status.Limited {
		return status, nil
	}

	releasing, err := g.ledger.NthFailedByIdentifier(ctx, identifier, since, count-g.config.MaxAttempts)
	if err != nil {
		return models.RateLimitStatus{}, err
	}
	g.applyReset(&status, releasing, g.config.Window, now)
	return status, nil
}

// CheckIP counts failures from ip across all identifiers.
func (g *RateGate) CheckIP(ctx context.Context, ip string) (models.RateLimitStatus, error) {
	now := g.now().UTC()
	since := now.Add(-g.config.Window)

	count, err := g.ledger.CountFailedByIP(ctx, ip, since)
	if err != nil {
		return models.RateLimitStatus{}, err
	}
	status := newRateLimitStatus(count, g.config.MaxIPAttempts)
	if !status.Limited {
		return status, nil
	}

	releasing, err := g.ledger.NthFailedByIP(ctx, ip, since, count-g.config.MaxIPAttempts)
	if err != nil {
		return models.RateLimitStatus{}, err
	}
	g.applyReset(&status, releasing, g.config.Window, now)
	return status, nil
}

// CheckLockout reports whether the identifier reached the lockout threshold
// inside the lockout window.
func (g *RateGate) CheckLockout(ctx context.Context, identifier string) (models.LockoutStatus, error) {
	identifier = NormalizeIdentifier(identifier)
	now := g.now().UTC()
	since := now.Add(-g.config.LockoutWindow)

	failures, err := g.ledger.CountFailedByIdentifier(ctx, identifier, since)
	if err != nil {
		return models.LockoutStatus{}, err
	}
	status := models.LockoutStatus{
		Failures:  failures,
		Threshold: g.config.LockoutThreshold,
		Locked:    failures >= g.config.LockoutThreshold,
	}
	if !status.Locked {
		return status, nil
	}

	releasing, err := g.ledger.NthFailedByIdentifier(ctx, identifier, since, failures-g.config.LockoutThreshold)
	if err != nil {
		return models.LockoutStatus{}, err
	}
	unlockAt := now.Add(g.config.LockoutWindow)
	if releasing != nil {
		unlockAt = releasing.Add(g.config.LockoutWindow)
	}
	status.UnlockAt = &unlockAt
	return status, nil
}

// SuspiciousIPs returns the failing source addresses for identifier when they
// exceed the configured diversity threshold, otherwise nil.
func (g *RateGate) SuspiciousIPs(ctx context.Context, identifier string) ([]models.IPAttemptSummary, error) {
	identifier = NormalizeIdentifier(identifier)
	since := g.now().UTC().Add(-g.config.LockoutWindow)

	ips, err := g.ledger.DistinctIPsForIdentifier(ctx, identifier, since)
	if err != nil {
		return nil, err
	}
	if len(ips) <= g.config.SuspiciousIPThreshold {
		return nil, nil
	}
	return ips, nil
}

// applyReset derives the retry hint from the failure whose expiry brings the
// count back under the limit: with count failures and a limit of n that is
// the (count-n+1)-th oldest. Rejected attempts are failures too, so the hint
// moves out as a client keeps retrying.
func (g *RateGate) applyReset(status *models.RateLimitStatus, releasing *time.Time, window time.Duration, now time.Time) {
	resetAt := now.Add(window)
	if releasing != nil {
		resetAt = releasing.Add(window)
	}
	status.ResetAt = resetAt
	status.RetryAfter = resetAt.Sub(now)
	if status.RetryAfter < time.Second {
		status.RetryAfter = time.Second
	}
}

func newRateLimitStatus(count, limit int) models.RateLimitStatus {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return models.RateLimitStatus{
		Attempts:  count,
		Limit:     limit,
		Remaining: remaining,
		Limited:   count >= limit,
	}
}

// NormalizeIdentifier trims and lower-cases a login identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
