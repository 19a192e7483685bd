// Package webhook receives provider delivery callbacks, verifies them,
// acks immediately and feeds normalized events to the reconciliation engine
// on a bounded background queue.
package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/provider"
	"wacampaign_backend/internal/reconcile"
)

// ExtractedEvent pairs a canonical event with the channel it arrived on, so
// the processor can resolve the owning tenant.
type ExtractedEvent struct {
	ChannelRef string
	Event      reconcile.Event
}

type graphPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Statuses []graphStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type graphStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code      int    `json:"code"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"errors"`
}

var graphStatusMap = map[string]campaign.Status{
	"sent":      campaign.StatusSent,
	"delivered": campaign.StatusDelivered,
	"read":      campaign.StatusRead,
	"failed":    campaign.StatusFailed,
}

// ExtractGraphEvents normalizes a Graph webhook body into canonical events.
// Statuses with an unknown vocabulary word are skipped, not failed: one bad
// entry must not drop the rest of the batch.
func ExtractGraphEvents(body []byte) ([]ExtractedEvent, error) {
	var payload graphPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode graph payload: %w", err)
	}

	var out []ExtractedEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			channelRef := change.Value.Metadata.PhoneNumberID
			for _, st := range change.Value.Statuses {
				status, ok := graphStatusMap[st.Status]
				if !ok || st.ID == "" {
					continue
				}
				code, detail := richestGraphError(st)
				out = append(out, ExtractedEvent{
					ChannelRef: channelRef,
					Event: reconcile.Event{
						Provider:    provider.NameGraph,
						MessageID:   st.ID,
						Recipient:   normalizeRecipient(st.RecipientID),
						Status:      status,
						Timestamp:   parseUnixSeconds(st.Timestamp),
						ErrorCode:   code,
						ErrorDetail: detail,
					},
				})
			}
		}
	}
	return out, nil
}

// richestGraphError picks the most specific failure detail available:
// error_data.details over message over title.
func richestGraphError(st graphStatus) (code, detail string) {
	if len(st.Errors) == 0 {
		return "", ""
	}
	e := st.Errors[0]
	code = strconv.Itoa(e.Code)
	switch {
	case e.ErrorData.Details != "":
		detail = e.ErrorData.Details
	case e.Message != "":
		detail = e.Message
	default:
		detail = e.Title
	}
	return code, detail
}

func parseUnixSeconds(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// normalizeRecipient restores the leading "+" the Graph API strips from
// recipient identifiers.
func normalizeRecipient(id string) string {
	if id == "" || strings.HasPrefix(id, "+") {
		return id
	}
	return "+" + id
}
