package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AuditEventType is the closed taxonomy of audit events.
type AuditEventType string

const (
	AuditLoginSuccess         AuditEventType = "LOGIN_SUCCESS"
	AuditLoginFailed          AuditEventType = "LOGIN_FAILED"
	AuditLogout               AuditEventType = "LOGOUT"
	AuditLogoutAll            AuditEventType = "LOGOUT_ALL"
	AuditTokenRefresh         AuditEventType = "TOKEN_REFRESH"
	AuditSessionRevoked       AuditEventType = "SESSION_REVOKED"
	AuditPasswordChange       AuditEventType = "PASSWORD_CHANGE"
	AuditPasswordResetRequest AuditEventType = "PASSWORD_RESET_REQUEST"
	AuditPasswordReset        AuditEventType = "PASSWORD_RESET"
	AuditRoleChange           AuditEventType = "ROLE_CHANGE"
	AuditPermissionChange     AuditEventType = "PERMISSION_CHANGE"
	AuditAccountLocked        AuditEventType = "ACCOUNT_LOCKED"
	AuditAccountUnlocked      AuditEventType = "ACCOUNT_UNLOCKED"
	AuditSuspiciousActivity   AuditEventType = "SUSPICIOUS_ACTIVITY"
	AuditRateLimited          AuditEventType = "RATE_LIMITED"
	AuditProfileUpdate        AuditEventType = "PROFILE_UPDATE"
	AuditMFAEnabled           AuditEventType = "MFA_ENABLED"
	AuditMFADisabled          AuditEventType = "MFA_DISABLED"
	AuditMFAFailed            AuditEventType = "MFA_FAILED"
)

var auditEventTypes = map[AuditEventType]bool{
	AuditLoginSuccess:         false,
	AuditLoginFailed:          true,
	AuditLogout:               false,
	AuditLogoutAll:            true,
	AuditTokenRefresh:         false,
	AuditSessionRevoked:       true,
	AuditPasswordChange:       true,
	AuditPasswordResetRequest: false,
	AuditPasswordReset:        true,
	AuditRoleChange:           true,
	AuditPermissionChange:     true,
	AuditAccountLocked:        true,
	AuditAccountUnlocked:      true,
	AuditSuspiciousActivity:   true,
	AuditRateLimited:          true,
	AuditProfileUpdate:        false,
	AuditMFAEnabled:           false,
	AuditMFADisabled:          true,
	AuditMFAFailed:            true,
}

// Valid reports whether t belongs to the taxonomy.
func (t AuditEventType) Valid() bool {
	_, ok := auditEventTypes[t]
	return ok
}

// Security reports whether t is part of the security-relevant subset.
func (t AuditEventType) Security() bool {
	return auditEventTypes[t]
}

// SecurityEventTypes lists the security subset in a stable order.
func SecurityEventTypes() []string {
	return []string{
		string(AuditLoginFailed),
		string(AuditPasswordChange),
		string(AuditPasswordReset),
		string(AuditRoleChange),
		string(AuditPermissionChange),
		string(AuditAccountLocked),
		string(AuditAccountUnlocked),
		string(AuditSuspiciousActivity),
		string(AuditRateLimited),
		string(AuditMFADisabled),
		string(AuditMFAFailed),
		string(AuditSessionRevoked),
		string(AuditLogoutAll),
	}
}

// AuditContext carries request attributes stamped on every audit row.
type AuditContext struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        string         `db:"id" json:"id"`
	EventType AuditEventType `db:"event_type" json:"event_type"`
	UserID    *string        `db:"user_id" json:"user_id,omitempty"`
	IPAddress string         `db:"ip_address" json:"ip_address"`
	UserAgent string         `db:"user_agent" json:"user_agent"`
	SessionID *string        `db:"session_id" json:"session_id,omitempty"`
	Metadata  types.JSONText `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// AuditExportFilter narrows an audit export.
type AuditExportFilter struct {
	Since      time.Time
	Until      time.Time
	UserID     string
	EventTypes []string
	Limit      int
}
