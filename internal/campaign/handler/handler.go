// Package handler exposes the campaign HTTP endpoints.
package handler

import (
	"net/http"
	"strconv"

	"wacampaign_backend/internal/campaign/service"
	"wacampaign_backend/internal/campaign/transport"
	"wacampaign_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler handles campaign HTTP requests.
type Handler struct {
	svc *service.Service
}

// New creates a campaign handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Send handles POST /campaigns/send.
func (h *Handler) Send(c *gin.Context) {
	h.send(c, false)
}

// SendBulk handles POST /campaigns/bulk: always queued as a job.
func (h *Handler) SendBulk(c *gin.Context) {
	h.send(c, true)
}

func (h *Handler) send(c *gin.Context, forceJob bool) {
	tenantID, ok := httpkit.TenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing tenant", nil)
		return
	}

	var req transport.SendCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	out, err := h.svc.Send(c.Request.Context(), tenantID, req.ToInput(forceJob))
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusOK
	if out.Mode == service.ModeJob {
		status = http.StatusAccepted
	}
	httpkit.JSON(c, status, transport.FromOutcome(out))
}

// Logs handles GET /campaigns/:name/logs.
func (h *Handler) Logs(c *gin.Context) {
	tenantID, ok := httpkit.TenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing tenant", nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	entries, err := h.svc.Logs(c.Request.Context(), tenantID, c.Param("name"), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"entries": transport.FromEntries(entries)})
}

// Summary handles GET /campaigns/:name/summary.
func (h *Handler) Summary(c *gin.Context) {
	tenantID, ok := httpkit.TenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing tenant", nil)
		return
	}

	name := c.Param("name")
	counts, err := h.svc.Summary(c.Request.Context(), tenantID, name)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromSummary(name, counts))
}

// Job handles GET /jobs/:id.
func (h *Handler) Job(c *gin.Context) {
	tenantID, ok := httpkit.TenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing tenant", nil)
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid job id", nil)
		return
	}

	job, err := h.svc.Job(c.Request.Context(), tenantID, jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromJob(job))
}
