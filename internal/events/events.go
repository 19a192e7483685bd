// Package events defines the domain events exchanged between modules and
// re-exports the platform bus types so modules import a single package.
package events

import (
	"time"

	"wacampaign_backend/platform/events"

	"github.com/google/uuid"
)

// Re-exported bus types.
type (
	Event       = events.Event
	BaseEvent   = events.BaseEvent
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
)

var NewBaseEvent = events.NewBaseEvent

const (
	MessageStatusChangedName = "campaign.message_status_changed"
	CampaignJobFinishedName  = "campaign.job_finished"
)

// MessageStatusChanged fires whenever the reconciliation engine applies a
// status event to the ledger. Fan-out targets: SSE streams, metrics.
type MessageStatusChanged struct {
	BaseEvent
	TenantID  uuid.UUID
	MessageID string
	Recipient string
	Status    string
	At        time.Time
}

func (e MessageStatusChanged) EventName() string { return MessageStatusChangedName }

// CampaignJobFinished fires when a queued bulk dispatch job completes all
// its batches. Fan-out targets: SSE streams, summary email.
type CampaignJobFinished struct {
	BaseEvent
	JobID        uuid.UUID
	TenantID     uuid.UUID
	CampaignName string
	Total        int
	Succeeded    int
	Failed       int
}

func (e CampaignJobFinished) EventName() string { return CampaignJobFinishedName }
