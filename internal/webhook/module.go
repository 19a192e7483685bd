// Package webhook provides the webhook bounded context module.
package webhook

import (
	apphttp "wacampaign_backend/internal/http"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates and initializes the webhook module.
func NewModule(cfg config.WebhookConfig, engine Engine, channels ChannelLookup, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(cfg, engine, channels, log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// Close drains the background processing queue.
func (m *Module) Close() {
	m.handler.Close()
}

// RegisterRoutes mounts the webhook routes. Receivers live on the public
// group; the debug buffer requires tenant auth.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Public.GET("/meta", m.handler.VerifyMeta)
	ctx.Public.POST("/meta", m.handler.ReceiveMeta)
	ctx.Public.POST("/gateway", m.handler.ReceiveGateway)

	ctx.Protected.GET("/webhooks/recent", m.handler.Recent)
}

var _ apphttp.Module = (*Module)(nil)
