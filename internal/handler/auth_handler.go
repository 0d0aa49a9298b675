package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authguard-api/internal/middleware"
	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error)
	Logout(ctx context.Context, accessToken string, claims *models.AccessClaims, req models.RequestContext) error
	LogoutAll(ctx context.Context, accessToken string, claims *models.AccessClaims, req models.RequestContext) (int, error)
	Me(ctx context.Context, claims *models.AccessClaims) (*models.UserInfo, error)
	ListSessions(ctx context.Context, claims *models.AccessClaims) ([]models.SessionView, error)
	RevokeUserSession(ctx context.Context, claims *models.AccessClaims, sessionID string, req models.RequestContext) error
	LogoutOthers(ctx context.Context, claims *models.AccessClaims, req models.RequestContext) (int, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService authService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService authService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login godoc
// @Summary Login
// @Description Authenticate with email or username and password
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.Request = middleware.RequestContext(c)

	result, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Refresh godoc
// @Summary Refresh token
// @Description Rotate a refresh token into a new token pair
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}
	req.Request = middleware.RequestContext(c)

	result, err := h.authService.Refresh(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Logout godoc
// @Summary Logout
// @Description Revoke the current session and its access token
// @Tags Auth
// @Security BearerAuth
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.authService.Logout(c.Request.Context(), accessTokenFromContext(c), claims, middleware.RequestContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// LogoutAll godoc
// @Summary Logout everywhere
// @Description Revoke every session of the current user
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	revoked, err := h.authService.LogoutAll(c.Request.Context(), accessTokenFromContext(c), claims, middleware.RequestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.LogoutAllResponse{Revoked: revoked}, nil)
}

// Me godoc
// @Summary Current user
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	user, err := h.authService.Me(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// ListSessions godoc
// @Summary List active sessions
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/sessions [get]
func (h *AuthHandler) ListSessions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sessions, err := h.authService.ListSessions(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// RevokeSession godoc
// @Summary Revoke a session
// @Tags Sessions
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /auth/sessions/{id} [delete]
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.authService.RevokeUserSession(c.Request.Context(), claims, c.Param("id"), middleware.RequestContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RevokeOtherSessions godoc
// @Summary Revoke all other sessions
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/sessions/revoke-others [post]
func (h *AuthHandler) RevokeOtherSessions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	revoked, err := h.authService.LogoutOthers(c.Request.Context(), claims, middleware.RequestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.LogoutAllResponse{Revoked: revoked}, nil)
}
