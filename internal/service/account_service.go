package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

type accountStore interface {
	FindByID(ctx context.Context, id string) (*models.Credential, error)
	UpdateSecret(ctx context.Context, id, secretHash string, updatedAt time.Time) error
	UpdateRole(ctx context.Context, id string, role models.UserRole, updatedAt time.Time) error
}

// ChangePasswordRequest is the payload for a self-service password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=1024,nefield=CurrentPassword"`
}

// ChangeRoleRequest is the payload for an administrative role change.
type ChangeRoleRequest struct {
	Role models.UserRole `json:"role" validate:"required,oneof=SUPERADMIN ADMIN USER"`
}

// PasswordChangeResult reports the sessions closed by a password change.
type PasswordChangeResult struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// AccountService handles credential changes that invalidate existing sessions.
type AccountService struct {
	store     accountStore
	hasher    hashing.Hasher
	sessions  *SessionService
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAccountService creates an instance of AccountService.
func NewAccountService(store accountStore, hasher hashing.Hasher, sessions *SessionService, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AccountService{
		store:     store,
		hasher:    hasher,
		sessions:  sessions,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every other session of the caller.
func (s *AccountService) ChangePassword(ctx context.Context, claims *models.AccessClaims, req ChangePasswordRequest, meta models.RequestContext) (*PasswordChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid password change payload")
	}

	cred, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	ok, err := s.hasher.Verify(req.CurrentPassword, cred.SecretHash)
	if err != nil {
		s.logger.Warn("stored secret could not be verified", zap.String("user_id", cred.ID), zap.Error(err))
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if errors.Is(err, hashing.ErrPasswordTooLong) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "new password is too long")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.store.UpdateSecret(ctx, cred.ID, hash, s.now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	revoked, err := s.sessions.RevokeOtherSessions(ctx, cred.ID, claims.SessionID)
	if err != nil {
		s.logger.Error("password changed but other sessions were not revoked", zap.String("user_id", cred.ID), zap.Error(err))
	}

	s.audit.LogPasswordChange(ctx, cred.ID, newAuditContext(meta, claims.SessionID))
	return &PasswordChangeResult{SessionsRevoked: revoked}, nil
}

// ChangeRole assigns a new role to targetID. All sessions of the target are
// revoked so tokens carrying the old role stop authenticating.
func (s *AccountService) ChangeRole(ctx context.Context, actor *models.AccessClaims, targetID string, req ChangeRoleRequest, meta models.RequestContext) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role change payload")
	}
	if actor.UserID == targetID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change own role")
	}

	cred, err := s.store.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	from := cred.Role
	if from == req.Role {
		info := userInfo(cred)
		return &info, nil
	}

	if err := s.store.UpdateRole(ctx, cred.ID, req.Role, s.now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}
	cred.Role = req.Role

	if _, err := s.sessions.RevokeAllSessions(ctx, cred.ID); err != nil {
		s.logger.Error("role changed but sessions were not revoked", zap.String("user_id", cred.ID), zap.Error(err))
	}

	s.audit.LogRoleChange(ctx, actor.UserID, cred.ID, newAuditContext(meta, actor.SessionID), from, req.Role)
	info := userInfo(cred)
	return &info, nil
}
