// Package reconcile merges provider status events into the campaign log.
// Events arrive out of order, duplicated and from two different providers;
// the engine normalizes them against the monotonic status progression so the
// ledger only ever moves forward.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/campaign/repository"
	"wacampaign_backend/internal/events"
	"wacampaign_backend/internal/provider"
	"wacampaign_backend/platform/logger"
	"wacampaign_backend/platform/metrics"

	"github.com/google/uuid"
)

// genericFailureDetail is the fallback text for failure events that carry
// no error payload at all.
const genericFailureDetail = "delivery failed"

// Event is one canonical status event, already normalized from a provider
// webhook payload by the webhook extractors.
type Event struct {
	Provider    provider.Name
	MessageID   string
	Recipient   string
	Status      campaign.Status
	Timestamp   time.Time
	ErrorCode   string
	ErrorDetail string
}

// Store is the ledger access the engine needs.
type Store interface {
	GetByMessageID(ctx context.Context, tenantID uuid.UUID, messageID string) (campaign.LogEntry, error)
	UpdateByMessageID(ctx context.Context, tenantID uuid.UUID, messageID string, upd campaign.StatusUpdate) (bool, error)
	CreateOrUpdateFromWebhook(ctx context.Context, rec campaign.WebhookRecord) (bool, error)
	RefineFailureDetail(ctx context.Context, tenantID uuid.UUID, messageID, errorMessage string) error
}

// Engine applies canonical events to the ledger.
type Engine struct {
	store   Store
	bus     events.Bus
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a reconciliation engine.
func New(store Store, bus events.Bus, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{store: store, bus: bus, log: log, metrics: m}
}

// Apply merges one event into the ledger and reports whether it changed the
// row. A false return with nil error means the event was a replay or arrived
// behind the row's current status; both are normal.
func (e *Engine) Apply(ctx context.Context, tenantID uuid.UUID, ev Event) (bool, error) {
	if ev.MessageID == "" {
		return false, errors.New("event has no message id")
	}
	if !ev.Status.Valid() {
		return false, fmt.Errorf("event has unknown status %q", ev.Status)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	applied, err := e.apply(ctx, tenantID, ev)
	if err != nil {
		return false, err
	}

	e.log.WithTenantID(tenantID.String()).
		WebhookEvent(string(ev.Provider), ev.MessageID, string(ev.Status), applied)
	if e.metrics != nil {
		e.metrics.WebhookEvents.WithLabelValues(string(ev.Provider), strconv.FormatBool(applied)).Inc()
	}

	if applied {
		e.bus.Publish(ctx, events.MessageStatusChanged{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  tenantID,
			MessageID: ev.MessageID,
			Recipient: ev.Recipient,
			Status:    string(ev.Status),
			At:        ev.Timestamp,
		})
	}
	return applied, nil
}

func (e *Engine) apply(ctx context.Context, tenantID uuid.UUID, ev Event) (bool, error) {
	errMsg := failureDetail(ev)

	entry, err := e.store.GetByMessageID(ctx, tenantID, ev.MessageID)
	switch {
	case errors.Is(err, repository.ErrEntryNotFound):
		// Webhook won the race against the dispatch write; create the row
		// keyed on the message id so the late dispatch upsert merges into it.
		return e.store.CreateOrUpdateFromWebhook(ctx, campaign.WebhookRecord{
			TenantID:          tenantID,
			ProviderMessageID: ev.MessageID,
			RecipientNumber:   ev.Recipient,
			Status:            ev.Status,
			Timestamp:         ev.Timestamp,
			ErrorMessage:      errMsg,
		})
	case err != nil:
		return false, err
	}

	// A second failure report never moves the status, but it may carry a
	// richer error description than the one on file. Keep the better text
	// without treating the replay as an applied event.
	if entry.Status == campaign.StatusFailed && ev.Status == campaign.StatusFailed {
		if refinesFailureDetail(entry.ErrorMessage, errMsg) {
			return false, e.store.RefineFailureDetail(ctx, tenantID, ev.MessageID, *errMsg)
		}
		return false, nil
	}

	return e.store.UpdateByMessageID(ctx, tenantID, ev.MessageID, campaign.StatusUpdate{
		Status:       ev.Status,
		Timestamp:    ev.Timestamp,
		ErrorMessage: errMsg,
	})
}

// refinesFailureDetail reports whether incoming is a more specific failure
// description than current. The bare fallback never replaces real detail,
// and an identical replay changes nothing.
func refinesFailureDetail(current, incoming *string) bool {
	if incoming == nil || *incoming == genericFailureDetail {
		return false
	}
	return current == nil || *current == genericFailureDetail || *current != *incoming
}

// failureDetail assembles the error message for failed events. Code and
// detail combine when both are present; non-failure events carry nothing.
func failureDetail(ev Event) *string {
	if ev.Status != campaign.StatusFailed {
		return nil
	}
	var msg string
	switch {
	case ev.ErrorCode != "" && ev.ErrorDetail != "":
		msg = fmt.Sprintf("%s: %s", ev.ErrorCode, ev.ErrorDetail)
	case ev.ErrorDetail != "":
		msg = ev.ErrorDetail
	case ev.ErrorCode != "":
		msg = ev.ErrorCode
	default:
		msg = genericFailureDetail
	}
	return &msg
}
