package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/campaign/repository"
	"wacampaign_backend/internal/events"
	"wacampaign_backend/internal/provider"
	platformevents "wacampaign_backend/platform/events"
	"wacampaign_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore mirrors the repository's monotonic guard semantics in memory.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*campaign.LogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*campaign.LogEntry)}
}

func (s *fakeStore) key(tenantID uuid.UUID, messageID string) string {
	return tenantID.String() + "|" + messageID
}

func (s *fakeStore) seed(tenantID uuid.UUID, messageID string, status campaign.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := messageID
	s.entries[s.key(tenantID, messageID)] = &campaign.LogEntry{
		TenantID:          tenantID,
		CampaignName:      "spring-sale",
		ProviderMessageID: &id,
		Status:            status,
	}
}

func (s *fakeStore) GetByMessageID(_ context.Context, tenantID uuid.UUID, messageID string) (campaign.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[s.key(tenantID, messageID)]
	if !ok {
		return campaign.LogEntry{}, repository.ErrEntryNotFound
	}
	return *entry, nil
}

func (s *fakeStore) UpdateByMessageID(_ context.Context, tenantID uuid.UUID, messageID string, upd campaign.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[s.key(tenantID, messageID)]
	if !ok || !campaign.Supersedes(upd.Status, entry.Status) {
		return false, nil
	}
	entry.Status = upd.Status
	s.setTimestamp(entry, upd.Status, upd.Timestamp)
	if upd.ErrorMessage != nil {
		entry.ErrorMessage = upd.ErrorMessage
	}
	return true, nil
}

func (s *fakeStore) CreateOrUpdateFromWebhook(_ context.Context, rec campaign.WebhookRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(rec.TenantID, rec.ProviderMessageID)
	if entry, ok := s.entries[k]; ok {
		if !campaign.Supersedes(rec.Status, entry.Status) {
			return false, nil
		}
		entry.Status = rec.Status
		s.setTimestamp(entry, rec.Status, rec.Timestamp)
		return true, nil
	}
	id := rec.ProviderMessageID
	entry := &campaign.LogEntry{
		TenantID:          rec.TenantID,
		CampaignName:      campaign.WebhookCampaignName,
		RecipientNumber:   rec.RecipientNumber,
		ProviderMessageID: &id,
		Status:            rec.Status,
		ErrorMessage:      rec.ErrorMessage,
	}
	s.setTimestamp(entry, rec.Status, rec.Timestamp)
	s.entries[k] = entry
	return true, nil
}

// UpsertOnSend mirrors the dispatch-path ON CONFLICT merge: dispatch-owned
// fields are always filled in, status is raised-only, sent_at is
// first-writer-wins.
func (s *fakeStore) UpsertOnSend(_ context.Context, rec campaign.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(rec.TenantID, rec.ProviderMessageID)
	entry, ok := s.entries[k]
	if !ok {
		id := rec.ProviderMessageID
		entry = &campaign.LogEntry{TenantID: rec.TenantID, ProviderMessageID: &id}
		s.entries[k] = entry
	}
	entry.CampaignName = rec.CampaignName
	entry.TemplateName = rec.TemplateName
	entry.LanguageCode = rec.LanguageCode
	entry.ProviderChannelRef = rec.ProviderChannelRef
	entry.RecipientNumber = rec.RecipientNumber
	if campaign.Supersedes(campaign.StatusSent, entry.Status) {
		entry.Status = campaign.StatusSent
	}
	if entry.SentAt == nil {
		ts := rec.SentAt
		entry.SentAt = &ts
	}
	return nil
}

func (s *fakeStore) RefineFailureDetail(_ context.Context, tenantID uuid.UUID, messageID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[s.key(tenantID, messageID)]
	if !ok || entry.Status != campaign.StatusFailed {
		return nil
	}
	entry.ErrorMessage = &errorMessage
	return nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// setTimestamp is first-writer-wins per lifecycle field, like the SQL path.
func (s *fakeStore) setTimestamp(entry *campaign.LogEntry, status campaign.Status, at time.Time) {
	ts := at
	switch status {
	case campaign.StatusSent:
		if entry.SentAt == nil {
			entry.SentAt = &ts
		}
	case campaign.StatusDelivered:
		if entry.DeliveredAt == nil {
			entry.DeliveredAt = &ts
		}
	case campaign.StatusRead:
		if entry.ReadAt == nil {
			entry.ReadAt = &ts
		}
	}
}

func (s *fakeStore) get(t *testing.T, tenantID uuid.UUID, messageID string) campaign.LogEntry {
	t.Helper()
	entry, err := s.GetByMessageID(context.Background(), tenantID, messageID)
	if err != nil {
		t.Fatalf("get %s: %v", messageID, err)
	}
	return entry
}

func newTestEngine(store Store) (*Engine, *platformevents.InMemoryBus) {
	log := logger.New("test")
	bus := platformevents.NewInMemoryBus(log)
	return New(store, bus, log, nil), bus
}

func event(messageID string, status campaign.Status) Event {
	return Event{
		Provider:  provider.NameGraph,
		MessageID: messageID,
		Recipient: "+14155550001",
		Status:    status,
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestApplyForwardProgression(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	for _, status := range []campaign.Status{campaign.StatusDelivered, campaign.StatusRead} {
		applied, err := engine.Apply(context.Background(), tenant, event("wamid.1", status))
		if err != nil {
			t.Fatalf("apply %s: %v", status, err)
		}
		if !applied {
			t.Fatalf("forward event %s should apply", status)
		}
	}
	if got := store.get(t, tenant, "wamid.1").Status; got != campaign.StatusRead {
		t.Fatalf("final status = %s, want read", got)
	}
}

func TestApplyBackwardEventIsIgnored(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusDelivered)

	applied, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusSent))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied {
		t.Fatal("backward event must not apply")
	}
	if got := store.get(t, tenant, "wamid.1").Status; got != campaign.StatusDelivered {
		t.Fatalf("status regressed to %s", got)
	}
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	first, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusDelivered))
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusDelivered))
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}

	if !first {
		t.Fatal("first delivery event should apply")
	}
	if second {
		t.Fatal("exact replay must be a no-op")
	}
}

func TestApplyFailedIsAbsorbing(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	ev := event("wamid.1", campaign.StatusFailed)
	ev.ErrorCode = "131026"
	ev.ErrorDetail = "recipient cannot receive this message"
	applied, err := engine.Apply(context.Background(), tenant, ev)
	if err != nil {
		t.Fatalf("apply failed event: %v", err)
	}
	if !applied {
		t.Fatal("failure event should apply")
	}

	entry := store.get(t, tenant, "wamid.1")
	if entry.ErrorMessage == nil || *entry.ErrorMessage != "131026: recipient cannot receive this message" {
		t.Fatalf("error message = %v", entry.ErrorMessage)
	}

	// Nothing supersedes failed, not even read.
	for _, status := range []campaign.Status{campaign.StatusDelivered, campaign.StatusRead} {
		applied, err := engine.Apply(context.Background(), tenant, event("wamid.1", status))
		if err != nil {
			t.Fatalf("apply %s after failed: %v", status, err)
		}
		if applied {
			t.Fatalf("%s applied after terminal failure", status)
		}
	}
	if got := store.get(t, tenant, "wamid.1").Status; got != campaign.StatusFailed {
		t.Fatalf("status left failed: %s", got)
	}
}

func TestApplyFailedReplayRefinesErrorDetail(t *testing.T) {
	store := newFakeStore()
	engine, bus := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	var mu sync.Mutex
	published := 0
	bus.Subscribe(events.MessageStatusChangedName, events.HandlerFunc(func(context.Context, events.Event) error {
		mu.Lock()
		published++
		mu.Unlock()
		return nil
	}))

	applied, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusFailed))
	if err != nil {
		t.Fatalf("apply failed event: %v", err)
	}
	if !applied {
		t.Fatal("first failure should apply")
	}

	richer := event("wamid.1", campaign.StatusFailed)
	richer.ErrorCode = "131049"
	richer.ErrorDetail = "marketing message limit reached"
	applied, err = engine.Apply(context.Background(), tenant, richer)
	if err != nil {
		t.Fatalf("apply richer failure: %v", err)
	}
	if applied {
		t.Fatal("refinement must not count as an applied event")
	}

	entry := store.get(t, tenant, "wamid.1")
	if entry.ErrorMessage == nil || *entry.ErrorMessage != "131049: marketing message limit reached" {
		t.Fatalf("error message = %v, want the richer detail kept", entry.ErrorMessage)
	}

	// An exact replay of the richer report changes nothing.
	if applied, err = engine.Apply(context.Background(), tenant, richer); err != nil || applied {
		t.Fatalf("replay applied=%v err=%v, want pure no-op", applied, err)
	}

	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	if published != 1 {
		t.Fatalf("published = %d, want only the first failure", published)
	}
}

func TestApplyOutOfOrderKeepsHighestStatus(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	// The read event overtakes the delivered event in transit.
	readEv := event("wamid.1", campaign.StatusRead)
	readEv.Timestamp = time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	applied, err := engine.Apply(context.Background(), tenant, readEv)
	if err != nil {
		t.Fatalf("apply read: %v", err)
	}
	if !applied {
		t.Fatal("read event should apply")
	}

	deliveredEv := event("wamid.1", campaign.StatusDelivered)
	deliveredEv.Timestamp = time.Date(2026, 8, 25, 12, 3, 0, 0, time.UTC)
	applied, err = engine.Apply(context.Background(), tenant, deliveredEv)
	if err != nil {
		t.Fatalf("apply delivered: %v", err)
	}
	if applied {
		t.Fatal("late delivered event must not demote read")
	}

	entry := store.get(t, tenant, "wamid.1")
	if entry.Status != campaign.StatusRead {
		t.Fatalf("status = %s, want read", entry.Status)
	}
	if entry.ReadAt == nil || !entry.ReadAt.Equal(readEv.Timestamp) {
		t.Fatalf("read_at = %v, want %v", entry.ReadAt, readEv.Timestamp)
	}
}

func TestApplyUnknownMessageCreatesWebhookRow(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store)
	tenant := uuid.New()

	applied, err := engine.Apply(context.Background(), tenant, event("wamid.orphan", campaign.StatusDelivered))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied {
		t.Fatal("event for unknown message should create a row")
	}

	entry := store.get(t, tenant, "wamid.orphan")
	if entry.CampaignName != campaign.WebhookCampaignName {
		t.Fatalf("campaign name = %s, want webhook lineage marker", entry.CampaignName)
	}
	if entry.Status != campaign.StatusDelivered {
		t.Fatalf("status = %s, want delivered", entry.Status)
	}
}

func TestApplyPublishesStatusChangedOnlyWhenApplied(t *testing.T) {
	store := newFakeStore()
	engine, bus := newTestEngine(store)
	tenant := uuid.New()
	store.seed(tenant, "wamid.1", campaign.StatusSent)

	var mu sync.Mutex
	var seen []string
	bus.Subscribe(events.MessageStatusChangedName, events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		changed := ev.(events.MessageStatusChanged)
		mu.Lock()
		seen = append(seen, changed.Status)
		mu.Unlock()
		return nil
	}))

	if _, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusDelivered)); err != nil {
		t.Fatalf("apply delivered: %v", err)
	}
	// Replay and regression must stay silent.
	if _, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusDelivered)); err != nil {
		t.Fatalf("apply replay: %v", err)
	}
	if _, err := engine.Apply(context.Background(), tenant, event("wamid.1", campaign.StatusSent)); err != nil {
		t.Fatalf("apply regression: %v", err)
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != string(campaign.StatusDelivered) {
		t.Fatalf("published statuses = %v, want exactly one delivered", seen)
	}
}

func TestApplyRejectsMalformedEvents(t *testing.T) {
	engine, _ := newTestEngine(newFakeStore())
	tenant := uuid.New()

	if _, err := engine.Apply(context.Background(), tenant, Event{Status: campaign.StatusSent}); err == nil {
		t.Fatal("expected error for missing message id")
	}
	if _, err := engine.Apply(context.Background(), tenant, Event{MessageID: "wamid.1", Status: "bogus"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestConcurrentSendAckAndWebhookMergeToOneRow(t *testing.T) {
	sentAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	deliveredAt := sentAt.Add(3 * time.Second)

	for range 50 {
		store := newFakeStore()
		engine, bus := newTestEngine(store)
		tenant := uuid.New()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := store.UpsertOnSend(context.Background(), campaign.SendRecord{
				TenantID:           tenant,
				CampaignName:       "spring-sale",
				TemplateName:       "promo_july",
				LanguageCode:       "en_US",
				ProviderChannelRef: "106540352242922",
				RecipientNumber:    "+14155550001",
				ProviderMessageID:  "wamid.R1",
				SentAt:             sentAt,
			}); err != nil {
				t.Errorf("upsert on send: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			ev := event("wamid.R1", campaign.StatusDelivered)
			ev.Timestamp = deliveredAt
			if _, err := engine.Apply(context.Background(), tenant, ev); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
		wg.Wait()
		bus.Wait()

		if n := store.size(); n != 1 {
			t.Fatalf("rows = %d, want exactly one for the shared message id", n)
		}
		entry := store.get(t, tenant, "wamid.R1")
		if entry.CampaignName != "spring-sale" || entry.TemplateName != "promo_july" {
			t.Fatalf("dispatch-owned fields lost: %+v", entry)
		}
		if entry.Status != campaign.StatusDelivered {
			t.Fatalf("status = %s, want delivered regardless of arrival order", entry.Status)
		}
		if entry.SentAt == nil || !entry.SentAt.Equal(sentAt) {
			t.Fatalf("sent_at = %v, want the dispatch acknowledgement time", entry.SentAt)
		}
		if entry.DeliveredAt == nil || !entry.DeliveredAt.Equal(deliveredAt) {
			t.Fatalf("delivered_at = %v, want the webhook time", entry.DeliveredAt)
		}
	}
}
