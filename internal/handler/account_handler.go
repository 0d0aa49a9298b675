package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authguard-api/internal/middleware"
	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/service"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/response"
)

type accountService interface {
	ChangePassword(ctx context.Context, claims *models.AccessClaims, req service.ChangePasswordRequest, meta models.RequestContext) (*service.PasswordChangeResult, error)
	ChangeRole(ctx context.Context, actor *models.AccessClaims, targetID string, req service.ChangeRoleRequest, meta models.RequestContext) (*models.UserInfo, error)
}

// AccountHandler exposes credential management endpoints.
type AccountHandler struct {
	accounts accountService
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(accounts accountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// ChangePassword godoc
// @Summary Change own password
// @Description Other sessions of the caller are revoked
// @Tags Auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.ChangePasswordRequest true "Password change payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/password [post]
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid password change payload"))
		return
	}

	result, err := h.accounts.ChangePassword(c.Request.Context(), claims, req, middleware.RequestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ChangeRole godoc
// @Summary Change a user's role
// @Description Every session of the target user is revoked
// @Tags Users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.ChangeRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/role [put]
func (h *AccountHandler) ChangeRole(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	user, err := h.accounts.ChangeRole(c.Request.Context(), claims, c.Param("id"), req, middleware.RequestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
