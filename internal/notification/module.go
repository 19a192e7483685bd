// Package notification fans domain events out to connected dashboards (SSE)
// and tenant contacts (email).
package notification

import (
	"context"

	"wacampaign_backend/internal/events"
	apphttp "wacampaign_backend/internal/http"
	"wacampaign_backend/internal/notification/email"
	"wacampaign_backend/internal/notification/sse"
	"wacampaign_backend/platform/httpkit"
	"wacampaign_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContactLookup resolves tenant notification recipients.
type ContactLookup interface {
	JobSummaryRecipients(ctx context.Context, tenantID uuid.UUID) ([]string, error)
}

// Module is the notification bounded context module implementing http.Module.
type Module struct {
	sse      *sse.Service
	email    email.Sender
	contacts ContactLookup
	log      *logger.Logger
}

// NewModule creates and initializes the notification module.
func NewModule(sseService *sse.Service, sender email.Sender, contacts ContactLookup, log *logger.Logger) *Module {
	return &Module{
		sse:      sseService,
		email:    sender,
		contacts: contacts,
		log:      log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// RegisterRoutes mounts the SSE stream on the protected tenant group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events/stream", m.sse.Handler(func(c *gin.Context) (uuid.UUID, bool) {
		return httpkit.TenantID(c)
	}))
}

// RegisterHandlers subscribes to the domain events the module fans out.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.MessageStatusChangedName, m)
	bus.Subscribe(events.CampaignJobFinishedName, m)
}

// Handle routes events to the appropriate fan-out.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.MessageStatusChanged:
		m.sse.Publish(e.TenantID, sse.Event{
			Type: sse.EventMessageStatus,
			Data: map[string]any{
				"messageId": e.MessageID,
				"status":    e.Status,
				"recipient": e.Recipient,
				"timestamp": e.At,
			},
		})
		return nil
	case events.CampaignJobFinished:
		m.sse.Publish(e.TenantID, sse.Event{
			Type: sse.EventJobFinished,
			Data: map[string]any{
				"jobId":     e.JobID,
				"campaign":  e.CampaignName,
				"total":     e.Total,
				"succeeded": e.Succeeded,
				"failed":    e.Failed,
			},
		})
		return m.sendJobSummary(ctx, e)
	default:
		return nil
	}
}

func (m *Module) sendJobSummary(ctx context.Context, e events.CampaignJobFinished) error {
	recipients, err := m.contacts.JobSummaryRecipients(ctx, e.TenantID)
	if err != nil {
		m.log.DatabaseError("tenant_contacts.job_summary_recipients", err)
		return err
	}
	for _, to := range recipients {
		if err := m.email.SendJobSummaryEmail(ctx, to, e.CampaignName, e.Total, e.Succeeded, e.Failed); err != nil {
			m.log.Error("job summary email failed", "to", to, "job_id", e.JobID, "error", err)
		}
	}
	return nil
}

var _ apphttp.Module = (*Module)(nil)
var _ events.Handler = (*Module)(nil)
