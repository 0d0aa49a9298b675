package models

import "time"

// Failure reasons recorded on the attempt ledger.
const (
	FailureBotDetected        = "bot_detected"
	FailureRateLimited        = "rate_limited"
	FailureIPRateLimited      = "ip_rate_limited"
	FailureAccountLocked      = "account_locked"
	FailureInvalidCredentials = "invalid_credentials"
	FailureAccountInactive    = "account_inactive"
	// FailureSessionError marks a verified login that could not be completed.
	// It is kept out of the rate limit and lockout counts.
	FailureSessionError = "session_error"
)

// LoginAttempt is an append-only ledger row.
type LoginAttempt struct {
	ID            string    `db:"id" json:"id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	Identifier    string    `db:"identifier" json:"identifier"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	Success       bool      `db:"success" json:"success"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LoginAttemptInput is the caller supplied part of a ledger row.
type LoginAttemptInput struct {
	Identifier    string
	UserID        *string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// IPAttemptSummary aggregates failures for one identifier from one IP.
type IPAttemptSummary struct {
	IP          string    `db:"ip_address" json:"ip_address"`
	Attempts    int       `db:"attempts" json:"attempts"`
	LastAttempt time.Time `db:"last_attempt" json:"last_attempt"`
}

// RateLimitStatus is the outcome of a sliding-window rate check.
type RateLimitStatus struct {
	Limited    bool          `json:"limited"`
	Attempts   int           `json:"attempts"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
	ResetAt    time.Time     `json:"reset_at"`
}

// LockoutStatus is the outcome of the lockout check.
type LockoutStatus struct {
	Locked    bool       `json:"locked"`
	Failures  int        `json:"failures"`
	Threshold int        `json:"threshold"`
	UnlockAt  *time.Time `json:"unlock_at,omitempty"`
}

// CheckOptions tunes a security check.
type CheckOptions struct {
	RejectBots bool
}

// SecurityCheckResult collects everything the checkpoint derived.
type SecurityCheckResult struct {
	Device          DeviceInfo
	IdentifierLimit RateLimitStatus
	IPLimit         RateLimitStatus
	Lockout         LockoutStatus
	SuspiciousIPs   []IPAttemptSummary
}
