package models

import "time"

// LoginRequest holds credentials for authenticating a user. Identifier is an
// email address or username.
type LoginRequest struct {
	Identifier string         `json:"identifier" validate:"required,max=255"`
	Password   string         `json:"password" validate:"required,max=1024"`
	RememberMe bool           `json:"remember_me"`
	Request    RequestContext `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	NewDevice        bool      `json:"new_device"`
	User             UserInfo  `json:"user"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string         `json:"refresh_token" validate:"required"`
	Request      RequestContext `json:"-"`
}

// RefreshTokenResponse returns the rotated tokens.
type RefreshTokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LogoutAllResponse reports how many sessions were revoked.
type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username,omitempty"`
	Role        UserRole `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}
