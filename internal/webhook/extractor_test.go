package webhook

import (
	"testing"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/provider"
)

func TestExtractGraphEvents(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"phone_number_id": "106540352242922"},
					"statuses": [
						{"id": "wamid.A1", "status": "delivered", "timestamp": "1756123200", "recipient_id": "14155550001"},
						{"id": "wamid.A2", "status": "typing", "timestamp": "1756123201", "recipient_id": "14155550002"},
						{"id": "wamid.A3", "status": "read", "timestamp": "1756123202", "recipient_id": "14155550003"}
					]
				}
			}]
		}]
	}`)

	events, err := ExtractGraphEvents(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (unknown status skipped)", len(events))
	}

	first := events[0]
	if first.ChannelRef != "106540352242922" {
		t.Fatalf("channel ref = %s", first.ChannelRef)
	}
	if first.Event.Provider != provider.NameGraph {
		t.Fatalf("provider = %s", first.Event.Provider)
	}
	if first.Event.MessageID != "wamid.A1" || first.Event.Status != campaign.StatusDelivered {
		t.Fatalf("event = %+v", first.Event)
	}
	if first.Event.Recipient != "+14155550001" {
		t.Fatalf("recipient = %s, want leading + restored", first.Event.Recipient)
	}
	if want := time.Unix(1756123200, 0).UTC(); !first.Event.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", first.Event.Timestamp, want)
	}
	if events[1].Event.Status != campaign.StatusRead {
		t.Fatalf("second status = %s", events[1].Event.Status)
	}
}

func TestExtractGraphFailurePicksRichestError(t *testing.T) {
	body := []byte(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "106540352242922"},
			"statuses": [{
				"id": "wamid.F1", "status": "failed", "timestamp": "1756123200",
				"recipient_id": "14155550001",
				"errors": [{
					"code": 131026,
					"title": "Message undeliverable",
					"message": "Message undeliverable",
					"error_data": {"details": "Recipient is not a valid WhatsApp user"}
				}]
			}]
		}}]}]
	}`)

	events, err := ExtractGraphEvents(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}

	ev := events[0].Event
	if ev.Status != campaign.StatusFailed {
		t.Fatalf("status = %s", ev.Status)
	}
	if ev.ErrorCode != "131026" {
		t.Fatalf("error code = %s", ev.ErrorCode)
	}
	if ev.ErrorDetail != "Recipient is not a valid WhatsApp user" {
		t.Fatalf("error detail = %q, want error_data.details preferred", ev.ErrorDetail)
	}
}

func TestExtractGraphMalformedBody(t *testing.T) {
	if _, err := ExtractGraphEvents([]byte(`{"entry": "nope"`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExtractGatewayEvents(t *testing.T) {
	body := []byte(`{
		"channel_id": "ch_7f2a",
		"events": [
			{"message_uid": "gm-100", "status": "delivered", "timestamp": "2026-08-25T12:00:00Z", "recipient": "14155550001"},
			{"message_uid": "gm-101", "status": "undelivered", "timestamp": "2026-08-25T12:00:05Z", "recipient": "14155550002", "reason": "handset unreachable"},
			{"message_uid": "gm-102", "status": "queued", "timestamp": "2026-08-25T12:00:06Z", "recipient": "14155550003"}
		]
	}`)

	events, err := ExtractGatewayEvents(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (queued skipped)", len(events))
	}

	if events[0].ChannelRef != "ch_7f2a" || events[0].Event.Provider != provider.NameGateway {
		t.Fatalf("first event = %+v", events[0])
	}

	// "undelivered" is the gateway's word for failed.
	failed := events[1].Event
	if failed.Status != campaign.StatusFailed {
		t.Fatalf("undelivered mapped to %s, want failed", failed.Status)
	}
	if failed.ErrorDetail != "handset unreachable" {
		t.Fatalf("error detail = %q", failed.ErrorDetail)
	}
	if want := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC); !failed.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", failed.Timestamp)
	}
}

func TestExtractGatewayStructuredErrorWinsOverReason(t *testing.T) {
	body := []byte(`{
		"channel_id": "ch_7f2a",
		"events": [{
			"message_uid": "gm-200", "status": "failed",
			"timestamp": "2026-08-25T12:00:00Z", "recipient": "14155550001",
			"reason": "generic failure",
			"error": {"code": "E-410", "title": "Expired", "details": "message expired after 24h"}
		}]
	}`)

	events, err := ExtractGatewayEvents(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	ev := events[0].Event
	if ev.ErrorCode != "E-410" || ev.ErrorDetail != "message expired after 24h" {
		t.Fatalf("error = %s / %q, structured error must win", ev.ErrorCode, ev.ErrorDetail)
	}
}
