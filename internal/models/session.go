package models

import "time"

// Session is one authenticated device context.
type Session struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	DeviceFingerprint string     `db:"device_fingerprint" json:"-"`
	IPAddress         string     `db:"ip_address" json:"ip_address"`
	UserAgent         string     `db:"user_agent" json:"user_agent"`
	RememberMe        bool       `db:"remember_me" json:"remember_me"`
	LastUsedAt        time.Time  `db:"last_used_at" json:"last_used_at"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt         *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// IsActive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsActive(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionIssue is returned when a session is created or reused. RefreshToken
// holds the raw token and is never persisted.
type SessionIssue struct {
	Session          *Session
	RefreshToken     string
	RefreshExpiresAt time.Time
	Created          bool
}

// SessionView is the listing shape returned to the session owner.
type SessionView struct {
	ID         string    `json:"id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	RememberMe bool      `json:"remember_me"`
	Current    bool      `json:"current"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSessionView projects s for the owner, marking the caller's own session.
func NewSessionView(s Session, currentID string) SessionView {
	return SessionView{
		ID:         s.ID,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		RememberMe: s.RememberMe,
		Current:    s.ID == currentID,
		LastUsedAt: s.LastUsedAt,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
	}
}
