package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	providerrepo "wacampaign_backend/internal/provider"
	channelrepo "wacampaign_backend/internal/provider/repository"
	"wacampaign_backend/internal/reconcile"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"
	"wacampaign_backend/platform/ringbuf"
	"wacampaign_backend/platform/taskq"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Engine applies canonical events; implemented by the reconcile engine.
type Engine interface {
	Apply(ctx context.Context, tenantID uuid.UUID, ev reconcile.Event) (bool, error)
}

// ChannelLookup maps inbound channel identifiers to tenant channels.
type ChannelLookup interface {
	GetByChannelRef(ctx context.Context, name providerrepo.Name, channelRef string) (channelrepo.Channel, error)
}

// RecentEvent is one entry of the per-handler debug buffer.
type RecentEvent struct {
	Provider   string    `json:"provider"`
	MessageID  string    `json:"messageId"`
	Recipient  string    `json:"recipient"`
	Status     string    `json:"status"`
	Applied    bool      `json:"applied"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Handler receives provider webhooks. Verification failures are rejected
// outright; verified payloads are acked immediately and processed on the
// background queue so slow database writes never stall the provider.
type Handler struct {
	cfg      config.WebhookConfig
	engine   Engine
	channels ChannelLookup
	queue    *taskq.Queue
	recent   *ringbuf.Ring[RecentEvent]
	log      *logger.Logger
}

// NewHandler creates a webhook handler with its own background queue.
func NewHandler(cfg config.WebhookConfig, engine Engine, channels ChannelLookup, log *logger.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		engine:   engine,
		channels: channels,
		queue:    taskq.New(cfg.GetWebhookQueueSize(), 4, log),
		recent:   ringbuf.New[RecentEvent](cfg.GetWebhookRecentBufferSize()),
		log:      log,
	}
}

// Close drains the background queue. Called during graceful shutdown.
func (h *Handler) Close() {
	h.queue.Close()
}

// VerifyMeta handles the Graph subscription handshake.
func (h *Handler) VerifyMeta(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token == "" || token != h.cfg.GetMetaVerifyToken() {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveMeta handles Graph status callbacks.
func (h *Handler) ReceiveMeta(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !h.validMetaSignature(c.GetHeader("X-Hub-Signature-256"), body) {
		h.log.Warn("meta webhook signature rejected", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	events, err := ExtractGraphEvents(body)
	if err != nil {
		// Only signature failures are rejected; a malformed body would just
		// be redelivered verbatim, so ack it and move on.
		h.log.Warn("meta webhook payload malformed", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": 0})
		return
	}

	h.ack(c, events)
}

// ReceiveGateway handles gateway status callbacks.
func (h *Handler) ReceiveGateway(c *gin.Context) {
	token := c.GetHeader("X-Webhook-Token")
	if token == "" || token != h.cfg.GetGatewayWebhookToken() {
		h.log.Warn("gateway webhook token rejected", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	events, err := ExtractGatewayEvents(body)
	if err != nil {
		h.log.Warn("gateway webhook payload malformed", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": 0})
		return
	}

	h.ack(c, events)
}

// Recent serves the debug buffer of recently processed events.
func (h *Handler) Recent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.recent.Snapshot()})
}

// ack responds 200 and hands the events to the background queue. A full
// queue is the one case that fails the ack: the provider will redeliver,
// and redelivery is safe because replays are no-ops.
func (h *Handler) ack(c *gin.Context, events []ExtractedEvent) {
	if len(events) == 0 {
		c.JSON(http.StatusOK, gin.H{"received": 0})
		return
	}

	err := h.queue.Submit(func(ctx context.Context) {
		h.process(ctx, events)
	})
	if err != nil {
		h.log.Error("webhook queue rejected batch", "events", len(events), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": len(events)})
}

func (h *Handler) process(ctx context.Context, events []ExtractedEvent) {
	for _, ev := range events {
		channel, err := h.channels.GetByChannelRef(ctx, ev.Event.Provider, ev.ChannelRef)
		if errors.Is(err, channelrepo.ErrChannelNotFound) {
			h.log.Warn("webhook event for unknown channel",
				"provider", ev.Event.Provider, "channel_ref", ev.ChannelRef, "message_id", ev.Event.MessageID)
			continue
		}
		if err != nil {
			h.log.DatabaseError("tenant_channels.get_by_channel_ref", err)
			continue
		}

		applied, err := h.engine.Apply(ctx, channel.TenantID, ev.Event)
		if err != nil {
			h.log.Error("webhook event apply failed",
				"provider", ev.Event.Provider, "message_id", ev.Event.MessageID, "error", err)
			continue
		}

		h.recent.Push(RecentEvent{
			Provider:   string(ev.Event.Provider),
			MessageID:  ev.Event.MessageID,
			Recipient:  ev.Event.Recipient,
			Status:     string(ev.Event.Status),
			Applied:    applied,
			ReceivedAt: time.Now().UTC(),
		})
	}
}

// Drain waits for queued batches to finish. Used in tests.
func (h *Handler) Drain() {
	h.queue.Drain()
}

func (h *Handler) validMetaSignature(header string, body []byte) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.GetMetaAppSecret()))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
