package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/provider"
	"wacampaign_backend/internal/reconcile"
)

type gatewayPayload struct {
	ChannelID string         `json:"channel_id"`
	Events    []gatewayEvent `json:"events"`
}

type gatewayEvent struct {
	MessageUID string `json:"message_uid"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	Recipient  string `json:"recipient"`
	// Older gateway versions report failure cause as a flat reason string;
	// newer ones attach a structured error object. The structured form wins.
	Reason string `json:"reason"`
	Error  *struct {
		Code    string `json:"code"`
		Title   string `json:"title"`
		Details string `json:"details"`
	} `json:"error"`
}

// The gateway says "undelivered" where the canonical vocabulary says failed.
var gatewayStatusMap = map[string]campaign.Status{
	"sent":        campaign.StatusSent,
	"delivered":   campaign.StatusDelivered,
	"read":        campaign.StatusRead,
	"undelivered": campaign.StatusFailed,
	"failed":      campaign.StatusFailed,
}

// ExtractGatewayEvents normalizes a gateway webhook body into canonical
// events. Unknown statuses are skipped.
func ExtractGatewayEvents(body []byte) ([]ExtractedEvent, error) {
	var payload gatewayPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode gateway payload: %w", err)
	}

	var out []ExtractedEvent
	for _, ev := range payload.Events {
		status, ok := gatewayStatusMap[ev.Status]
		if !ok || ev.MessageUID == "" {
			continue
		}
		code, detail := richestGatewayError(ev)
		out = append(out, ExtractedEvent{
			ChannelRef: payload.ChannelID,
			Event: reconcile.Event{
				Provider:    provider.NameGateway,
				MessageID:   ev.MessageUID,
				Recipient:   normalizeRecipient(ev.Recipient),
				Status:      status,
				Timestamp:   parseRFC3339(ev.Timestamp),
				ErrorCode:   code,
				ErrorDetail: detail,
			},
		})
	}
	return out, nil
}

func richestGatewayError(ev gatewayEvent) (code, detail string) {
	if ev.Error != nil {
		detail = ev.Error.Details
		if detail == "" {
			detail = ev.Error.Title
		}
		return ev.Error.Code, detail
	}
	return "", ev.Reason
}

func parseRFC3339(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
