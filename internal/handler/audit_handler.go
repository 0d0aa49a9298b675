package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authguard-api/internal/models"
	"github.com/noah-isme/authguard-api/internal/service"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/export"
	"github.com/noah-isme/authguard-api/pkg/response"
)

type auditQueryService interface {
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error)
	ListByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]models.AuditLog, error)
	ListByIP(ctx context.Context, ip string, limit int) ([]models.AuditLog, error)
	ListSecurityEvents(ctx context.Context, since time.Time, limit int) ([]models.AuditLog, error)
}

type auditExporter interface {
	Export(ctx context.Context, filter models.AuditExportFilter, format export.Format) (*service.ExportResult, error)
}

// AuditHandler exposes read access to the audit trail.
type AuditHandler struct {
	audit    auditQueryService
	exporter auditExporter
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(audit auditQueryService, exporter auditExporter) *AuditHandler {
	return &AuditHandler{audit: audit, exporter: exporter}
}

// ListByUser godoc
// @Summary User audit trail
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit/users/{id} [get]
func (h *AuditHandler) ListByUser(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		response.Error(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, pagination, err := h.audit.ListByUser(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// SecurityEvents godoc
// @Summary Recent security events
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param since query string false "RFC3339 lower bound, defaults to 24h ago"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /audit/security-events [get]
func (h *AuditHandler) SecurityEvents(c *gin.Context) {
	since, err := parseTimeParam(c, "since")
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.audit.ListSecurityEvents(c.Request.Context(), since, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// ListByEventType godoc
// @Summary Audit events by type
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param type path string true "Event type"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /audit/events/{type} [get]
func (h *AuditHandler) ListByEventType(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}
	eventType := models.AuditEventType(strings.ToUpper(c.Param("type")))

	logs, err := h.audit.ListByEventType(c.Request.Context(), eventType, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// ListByIP godoc
// @Summary Audit events by client IP
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param ip path string true "IP address"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /audit/ip/{ip} [get]
func (h *AuditHandler) ListByIP(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.audit.ListByIP(c.Request.Context(), c.Param("ip"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Export godoc
// @Summary Export security audit events
// @Tags Audit
// @Security BearerAuth
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Param user_id query string false "Restrict to one user"
// @Param event_types query string false "Comma separated event types"
// @Param limit query int false "Maximum rows"
// @Success 200 {file} file
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(strings.ToLower(c.Query("format")))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return
	}

	filter := models.AuditExportFilter{UserID: strings.TrimSpace(c.Query("user_id"))}
	if filter.Since, err = parseTimeParam(c, "since"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Until, err = parseTimeParam(c, "until"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		response.Error(c, err)
		return
	}
	if raw := c.Query("event_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				filter.EventTypes = append(filter.EventTypes, t)
			}
		}
	}

	result, err := h.exporter.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.FileName))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func parseTimeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid %s parameter", name))
	}
	return parsed, nil
}
