package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/authguard-api/internal/models"
)

// ErrInvalidToken covers every verification failure. Callers map it to a
// generic unauthorized response.
var ErrInvalidToken = errors.New("invalid token")

// TokenConfig holds signing material. Access and refresh secrets must differ.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      []string
}

// TokenService issues and verifies HS256 access and refresh tokens.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{config: cfg, now: time.Now}
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.config.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.config.RefreshTTL
}

// IssueAccess signs an access token bound to sessionID.
func (s *TokenService) IssueAccess(subject models.TokenSubject, sessionID string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.config.AccessTTL)
	claims := models.AccessClaims{
		UserID:      subject.UserID,
		Email:       subject.Email,
		Role:        subject.Role,
		Permissions: subject.Permissions,
		SessionID:   sessionID,
		Type:        models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.UserID,
			Issuer:    s.config.Issuer,
			Audience:  s.config.Audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefresh signs a refresh token for userID. A zero expiresAt uses the
// configured refresh TTL.
func (s *TokenService) IssueRefresh(userID string, expiresAt time.Time) (string, error) {
	now := s.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.config.RefreshTTL)
	}
	claims := models.RefreshClaims{
		Type: models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, expiry, issuer, audience and type.
func (s *TokenService) VerifyAccess(token string) (*models.AccessClaims, error) {
	opts := s.parserOptions()
	if len(s.config.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.config.Audience[0]))
	}

	claims := &models.AccessClaims{}
	if err := s.parse(token, claims, s.config.AccessSecret, opts); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token.
func (s *TokenService) VerifyRefresh(token string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := s.parse(token, claims, s.config.RefreshSecret, s.parserOptions()); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type tokenEnvelope struct {
	Type      models.TokenType `json:"type"`
	SessionID string           `json:"sid"`
	jwt.RegisteredClaims
}

// Decode reads claims without verifying the signature. The result is only
// fit for bookkeeping such as blacklist expiry.
func (s *TokenService) Decode(token string) (*models.TokenMetadata, error) {
	var claims tokenEnvelope
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	meta := &models.TokenMetadata{
		ID:        claims.ID,
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		Type:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		meta.IssuedAt = claims.IssuedAt.Time
	}
	return meta, nil
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	return opts
}

func (s *TokenService) parse(token string, claims jwt.Claims, secret string, opts []jwt.ParserOption) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
