package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/service"
)

type auditRecorder interface {
	Record(ctx context.Context, eventType models.AuditEventType, userID *string, actx models.AuditContext, metadata interface{})
}

// AuditDenied records a SUSPICIOUS_ACTIVITY event whenever an authenticated
// caller is refused by an authorization check further down the chain.
func AuditDenied(recorder auditRecorder, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil || c.Writer.Status() != http.StatusForbidden {
			return
		}

		claims, ok := claimsFrom(c)
		if !ok {
			return
		}

		userID := claims.UserID
		req := RequestContext(c)
		recorder.Record(c.Request.Context(), models.AuditSuspiciousActivity, &userID, models.AuditContext{
			IPAddress: service.ResolveClientIP(req),
			UserAgent: req.UserAgent,
			SessionID: claims.SessionID,
		}, map[string]interface{}{
			"reason":   "forbidden_access",
			"resource": resource,
			"method":   c.Request.Method,
			"path":     c.FullPath(),
		})
	}
}

// RequestContext collects the client attributes used for fingerprinting and
// audit stamping. The address comes from gin, which only honours forwarding
// headers sent by the engine's trusted proxies, so the raw headers are not
// passed on.
func RequestContext(c *gin.Context) models.RequestContext {
	return models.RequestContext{
		RemoteIP:       c.ClientIP(),
		UserAgent:      c.GetHeader("User-Agent"),
		AcceptLanguage: c.GetHeader("Accept-Language"),
	}
}
