package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access and refresh JWTs.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RefreshToken is the persisted record of an issued refresh token. Only the
// digest of the raw token is stored.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"session_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RotatedAt *time.Time `db:"rotated_at" json:"rotated_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// IsValid reports whether the token may still be exchanged at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenBlacklistEntry records a revoked access token by digest.
type TokenBlacklistEntry struct {
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// TokenSubject is the identity embedded in an access token.
type TokenSubject struct {
	UserID      string
	Email       string
	Role        UserRole
	Permissions []string
}

// AccessClaims is the verified access token payload.
type AccessClaims struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Role        UserRole  `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	SessionID   string    `json:"sid"`
	Type        TokenType `json:"type"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims carry permission.
func (c *AccessClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// RefreshClaims is the refresh token payload.
type RefreshClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenMetadata is decoded without signature verification and is only used
// for bookkeeping such as blacklist expiry.
type TokenMetadata struct {
	ID        string
	Subject   string
	SessionID string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the result of a successful refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"-"`
}
