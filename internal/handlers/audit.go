package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/services"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/response"
)

// AuditHandler exposes the read-only audit queries consumed by compliance and
// security-monitoring tooling. Queries never affect evaluation.
type AuditHandler struct {
	svc *services.AuditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc *services.AuditService) (*AuditHandler, error) {
	if svc == nil {
		return nil, errors.ErrInternalServer.WithMessage("audit service is required")
	}
	return &AuditHandler{svc: svc}, nil
}

// GET /api/v1/audit/users/:userId
func (h *AuditHandler) RecentForUser(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rows, err := h.svc.RecentForUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, rows)
}

// GET /api/v1/audit/denied?since=...&until=...
func (h *AuditHandler) Denied(c *gin.Context) {
	since, until, ok := parseWindow(c)
	if !ok {
		return
	}

	rows, err := h.svc.DeniedBetween(c.Request.Context(), since, until)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, rows)
}

// GET /api/v1/audit/stats?since=...&until=...
func (h *AuditHandler) Stats(c *gin.Context) {
	since, until, ok := parseWindow(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), since, until)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// parseWindow reads the since/until query params, defaulting to the last 24 hours.
func parseWindow(c *gin.Context) (time.Time, time.Time, bool) {
	until := time.Now().UTC()
	since := until.Add(-24 * time.Hour)

	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("since must be RFC3339"))
			return time.Time{}, time.Time{}, false
		}
		since = t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("until must be RFC3339"))
			return time.Time{}, time.Time{}, false
		}
		until = t
	}

	return since, until, true
}
