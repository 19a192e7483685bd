package notification

import (
	"context"
	"errors"
	"testing"

	"wacampaign_backend/internal/events"
	"wacampaign_backend/internal/notification/sse"
	"wacampaign_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeContacts struct {
	emails []string
	err    error
}

func (f fakeContacts) JobSummaryRecipients(context.Context, uuid.UUID) ([]string, error) {
	return f.emails, f.err
}

type recordingSender struct {
	sent []string
}

func (r *recordingSender) SendJobSummaryEmail(_ context.Context, toEmail, _ string, _, _, _ int) error {
	r.sent = append(r.sent, toEmail)
	return nil
}

func TestHandleJobFinishedEmailsEveryContact(t *testing.T) {
	sender := &recordingSender{}
	log := logger.New("test")
	m := NewModule(sse.New(log), sender,
		fakeContacts{emails: []string{"ops@acme.test", "admin@acme.test"}}, log)

	err := m.Handle(context.Background(), events.CampaignJobFinished{
		BaseEvent:    events.NewBaseEvent(),
		JobID:        uuid.New(),
		TenantID:     uuid.New(),
		CampaignName: "spring-sale",
		Total:        120,
		Succeeded:    118,
		Failed:       2,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("emails sent = %d, want 2", len(sender.sent))
	}
}

func TestHandleJobFinishedContactLookupError(t *testing.T) {
	sender := &recordingSender{}
	log := logger.New("test")
	m := NewModule(sse.New(log), sender, fakeContacts{err: errors.New("db down")}, log)

	err := m.Handle(context.Background(), events.CampaignJobFinished{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  uuid.New(),
	})
	if err == nil {
		t.Fatal("expected lookup error to propagate")
	}
	if len(sender.sent) != 0 {
		t.Fatal("no emails should go out when the lookup fails")
	}
}

func TestHandleIgnoresUnrelatedEvents(t *testing.T) {
	log := logger.New("test")
	m := NewModule(sse.New(log), &recordingSender{}, fakeContacts{}, log)

	if err := m.Handle(context.Background(), events.MessageStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  uuid.New(),
		MessageID: "wamid.1",
		Status:    "delivered",
	}); err != nil {
		t.Fatalf("status changed handling should not error: %v", err)
	}
}
