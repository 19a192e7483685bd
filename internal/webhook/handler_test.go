package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wacampaign_backend/internal/campaign"
	providerdef "wacampaign_backend/internal/provider"
	channelrepo "wacampaign_backend/internal/provider/repository"
	"wacampaign_backend/internal/reconcile"
	"wacampaign_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type testWebhookCfg struct{}

func (testWebhookCfg) GetMetaAppSecret() string        { return "meta-secret" }
func (testWebhookCfg) GetMetaVerifyToken() string      { return "verify-me" }
func (testWebhookCfg) GetGatewayWebhookToken() string  { return "gw-token" }
func (testWebhookCfg) GetWebhookQueueSize() int        { return 16 }
func (testWebhookCfg) GetWebhookRecentBufferSize() int { return 16 }

type fakeEngine struct {
	mu      sync.Mutex
	applied []reconcile.Event
	tenants []uuid.UUID
}

func (e *fakeEngine) Apply(_ context.Context, tenantID uuid.UUID, ev reconcile.Event) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, ev)
	e.tenants = append(e.tenants, tenantID)
	return true, nil
}

type fakeChannels struct {
	tenantID uuid.UUID
}

func (f fakeChannels) GetByChannelRef(_ context.Context, name providerdef.Name, channelRef string) (channelrepo.Channel, error) {
	if channelRef == "" {
		return channelrepo.Channel{}, channelrepo.ErrChannelNotFound
	}
	return channelrepo.Channel{TenantID: f.tenantID, Provider: name, ChannelRef: channelRef}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeEngine, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := &fakeEngine{}
	tenant := uuid.New()
	h := NewHandler(testWebhookCfg{}, engine, fakeChannels{tenantID: tenant}, logger.New("test"))
	t.Cleanup(h.Close)
	return h, engine, tenant
}

func signMeta(body []byte) string {
	mac := hmac.New(sha256.New, []byte("meta-secret"))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func performRequest(h http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/webhooks/meta", h.VerifyMeta)
	r.POST("/webhooks/meta", h.ReceiveMeta)
	r.POST("/webhooks/gateway", h.ReceiveGateway)
	r.GET("/webhooks/recent", h.Recent)
	return r
}

func TestVerifyMetaHandshake(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newRouter(h)

	w := performRequest(r, http.MethodGet,
		"/webhooks/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("body = %q, want echoed challenge", w.Body.String())
	}

	w = performRequest(r, http.MethodGet,
		"/webhooks/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad token status = %d, want 403", w.Code)
	}
}

func TestReceiveMetaRejectsBadSignature(t *testing.T) {
	h, engine, _ := newTestHandler(t)
	r := newRouter(h)
	body := []byte(`{"entry":[]}`)

	w := performRequest(r, http.MethodPost, "/webhooks/meta", body,
		map[string]string{"X-Hub-Signature-256": "sha256=deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	w = performRequest(r, http.MethodPost, "/webhooks/meta", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature status = %d, want 401", w.Code)
	}

	h.Drain()
	if len(engine.applied) != 0 {
		t.Fatal("rejected payloads must not reach the engine")
	}
}

func TestReceiveMetaAcksAndProcesses(t *testing.T) {
	h, engine, tenant := newTestHandler(t)
	r := newRouter(h)

	body := []byte(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "106540352242922"},
			"statuses": [{"id": "wamid.B1", "status": "delivered", "timestamp": "1756123200", "recipient_id": "14155550001"}]
		}}]}]
	}`)

	w := performRequest(r, http.MethodPost, "/webhooks/meta", body,
		map[string]string{"X-Hub-Signature-256": signMeta(body)})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	h.Drain()
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(engine.applied))
	}
	if engine.tenants[0] != tenant {
		t.Fatal("event routed to wrong tenant")
	}
	if engine.applied[0].MessageID != "wamid.B1" || engine.applied[0].Status != campaign.StatusDelivered {
		t.Fatalf("event = %+v", engine.applied[0])
	}
}

func TestReceiveMalformedPayloadStillAcked(t *testing.T) {
	h, engine, _ := newTestHandler(t)
	r := newRouter(h)

	// A verified but undecodable body would be redelivered forever if we
	// rejected it; only signature and token failures get a non-200.
	body := []byte(`{"entry": not-json`)
	w := performRequest(r, http.MethodPost, "/webhooks/meta", body,
		map[string]string{"X-Hub-Signature-256": signMeta(body)})
	if w.Code != http.StatusOK {
		t.Fatalf("meta malformed status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"received":0`)) {
		t.Fatalf("meta malformed body = %s, want received 0", w.Body.String())
	}

	w = performRequest(r, http.MethodPost, "/webhooks/gateway", []byte(`{"events":[`),
		map[string]string{"X-Webhook-Token": "gw-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("gateway malformed status = %d, want 200", w.Code)
	}

	h.Drain()
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.applied) != 0 {
		t.Fatal("malformed payloads must not reach the engine")
	}
}

func TestReceiveGatewayTokenCheck(t *testing.T) {
	h, engine, _ := newTestHandler(t)
	r := newRouter(h)
	body := []byte(`{"channel_id":"ch_1","events":[{"message_uid":"gm-1","status":"delivered","timestamp":"2026-08-25T12:00:00Z","recipient":"14155550001"}]}`)

	w := performRequest(r, http.MethodPost, "/webhooks/gateway", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", w.Code)
	}

	w = performRequest(r, http.MethodPost, "/webhooks/gateway", body,
		map[string]string{"X-Webhook-Token": "gw-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	h.Drain()
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(engine.applied))
	}
}

func TestRecentBufferRecordsProcessedEvents(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newRouter(h)
	body := []byte(`{"channel_id":"ch_1","events":[{"message_uid":"gm-9","status":"read","timestamp":"2026-08-25T12:00:00Z","recipient":"14155550001"}]}`)

	w := performRequest(r, http.MethodPost, "/webhooks/gateway", body,
		map[string]string{"X-Webhook-Token": "gw-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	h.Drain()

	deadline := time.Now().Add(time.Second)
	for h.recent.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snapshot := h.recent.Snapshot()
	if len(snapshot) != 1 || snapshot[0].MessageID != "gm-9" || !snapshot[0].Applied {
		t.Fatalf("recent = %+v", snapshot)
	}
}
