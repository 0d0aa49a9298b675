package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/handler"
	"github.com/noah-isme/authguard-api/internal/middleware"
	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/service"
	"github.com/noah-isme/authguard-api/pkg/config"
	"github.com/noah-isme/authguard-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/authguard-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/authguard-api/pkg/middleware/requestid"
)

const auditExportPermission = "audit:export"

var clientIPHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

type routerDeps struct {
	auth     *handler.AuthHandler
	account  *handler.AccountHandler
	audit    *handler.AuditHandler
	health   *handler.MetricsHandler
	authn    *service.AuthService
	recorder *service.AuditService
	metrics  *service.MetricsService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) (*gin.Engine, error) {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RemoteIPHeaders = clientIPHeaders
	if err := r.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(deps.metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	jwt := middleware.JWT(deps.authn)

	auth := api.Group("/auth")
	auth.POST("/login", deps.auth.Login)
	auth.POST("/refresh", deps.auth.Refresh)
	auth.POST("/logout", jwt, deps.auth.Logout)
	auth.POST("/logout-all", jwt, deps.auth.LogoutAll)
	auth.GET("/me", jwt, deps.auth.Me)
	auth.POST("/password", jwt, deps.account.ChangePassword)

	sessions := auth.Group("/sessions", jwt)
	sessions.GET("", deps.auth.ListSessions)
	sessions.POST("/revoke-others", deps.auth.RevokeOtherSessions)
	sessions.DELETE("/:id", deps.auth.RevokeSession)

	audit := api.Group("/audit", jwt, middleware.AuditDenied(deps.recorder, "audit"))
	audit.GET("/users/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), "SELF"), deps.audit.ListByUser)

	admin := audit.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/security-events", deps.audit.SecurityEvents)
	admin.GET("/events/:type", deps.audit.ListByEventType)
	admin.GET("/ip/:ip", deps.audit.ListByIP)
	admin.GET("/export", middleware.RequirePermission(auditExportPermission), deps.audit.Export)

	users := api.Group("/users", jwt, middleware.AuditDenied(deps.recorder, "users"))
	users.PUT("/:id/role", middleware.RequireRoles(models.RoleSuperAdmin), deps.account.ChangeRole)

	return r, nil
}
