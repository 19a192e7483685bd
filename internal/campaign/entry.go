package campaign

import (
	"time"

	"github.com/google/uuid"
)

// WebhookCampaignName tags ledger rows created by the reconciliation path
// before any local send acknowledgement was seen.
const WebhookCampaignName = "webhook-inbound"

// LogEntry is one row of the per-message ledger: the durable record of one
// recipient's message lifecycle. Rows are never deleted; they form the audit
// trail for billing and support.
type LogEntry struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	CampaignName       string
	TemplateName       string
	LanguageCode       string
	ProviderChannelRef string
	RecipientNumber    string
	ProviderMessageID  *string
	Status             Status
	ErrorMessage       *string
	Metadata           map[string]any
	SentAt             *time.Time
	DeliveredAt        *time.Time
	ReadAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SendRecord carries the dispatch-path fields written when a provider
// acknowledges a send.
type SendRecord struct {
	TenantID           uuid.UUID
	CampaignName       string
	TemplateName       string
	LanguageCode       string
	ProviderChannelRef string
	RecipientNumber    string
	ProviderMessageID  string
	Metadata           map[string]any
	SentAt             time.Time
}

// FailureRecord carries the dispatch-path fields written when every attempt
// for a recipient has failed terminally.
type FailureRecord struct {
	TenantID           uuid.UUID
	CampaignName       string
	TemplateName       string
	LanguageCode       string
	ProviderChannelRef string
	RecipientNumber    string
	ErrorMessage       string
	Metadata           map[string]any
}

// StatusUpdate carries the reconciliation-path fields applied to an existing
// ledger row.
type StatusUpdate struct {
	Status       Status
	Timestamp    time.Time
	ErrorMessage *string
}

// WebhookRecord carries the fields for a ledger row created by the
// reconciliation path when no dispatch-path row exists yet.
type WebhookRecord struct {
	TenantID          uuid.UUID
	ProviderMessageID string
	RecipientNumber   string
	Status            Status
	Timestamp         time.Time
	ErrorMessage      *string
}
