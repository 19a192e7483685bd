package handler

import (
	"wacampaign_backend/internal/campaign/service"
	apphttp "wacampaign_backend/internal/http"
)

// Module is the campaign bounded context module implementing http.Module.
// The domain types live in the campaign package root, so the module sits
// beside the handler to avoid an import cycle through the service.
type Module struct {
	handler *Handler
	service *service.Service
}

// NewModule creates the campaign module around an initialized service.
func NewModule(svc *service.Service) *Module {
	return &Module{
		handler: New(svc),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "campaign"
}

// Service returns the service layer for external use (the asynq worker runs
// batches through it).
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the campaign routes on the protected tenant group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/campaigns/send", m.handler.Send)
	ctx.Protected.POST("/campaigns/bulk", m.handler.SendBulk)
	ctx.Protected.GET("/campaigns/:name/logs", m.handler.Logs)
	ctx.Protected.GET("/campaigns/:name/summary", m.handler.Summary)
	ctx.Protected.GET("/jobs/:id", m.handler.Job)
}

var _ apphttp.Module = (*Module)(nil)
