// Package dispatcher runs bulk sends through a bounded worker pool with
// per-recipient retry. Every recipient outcome is written to the campaign
// log before it is counted in the aggregate, so the aggregate never claims
// a result the ledger does not hold.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/provider"
	"wacampaign_backend/platform/logger"
	"wacampaign_backend/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	minConcurrency = 1
	maxConcurrency = 50
	minAttempts    = 1
	maxAttempts    = 10

	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 8 * time.Second
)

// Store is the subset of the campaign log repository the dispatcher writes.
type Store interface {
	UpsertOnSend(ctx context.Context, rec campaign.SendRecord) error
	MarkFailed(ctx context.Context, rec campaign.FailureRecord) error
}

// Recipient is one target of a dispatch run.
type Recipient struct {
	Number     string
	Components []map[string]any
	Metadata   map[string]any
}

// Request describes one dispatch run. Concurrency and MaxAttempts are
// clamped to their allowed ranges rather than rejected.
type Request struct {
	TenantID           uuid.UUID
	CampaignName       string
	TemplateName       string
	LanguageCode       string
	Provider           provider.Name
	ProviderChannelRef string
	Recipients         []Recipient
	Concurrency        int
	MaxAttempts        int
	Send               provider.SendFunc
}

// Result is one recipient's final outcome.
type Result struct {
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Aggregate is the dispatch run summary. Succeeded+Failed always equals
// Total, and Results carries one entry per recipient in request order.
type Aggregate struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Dispatcher fans a recipient list out over the worker pool.
type Dispatcher struct {
	store   Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a dispatcher.
func New(store Store, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: store, log: log, metrics: m}
}

func clamp(v, lo, hi, fallback int) int {
	if v == 0 {
		v = fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Dispatch sends to every recipient and returns the aggregate. A canceled
// context stops scheduling new recipients; recipients never attempted are
// reported as failed with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Aggregate, error) {
	if req.Send == nil {
		return Aggregate{}, errors.New("dispatch request has no send function")
	}

	concurrency := clamp(req.Concurrency, minConcurrency, maxConcurrency, 10)
	attempts := clamp(req.MaxAttempts, minAttempts, maxAttempts, 3)

	results := make([]Result, len(req.Recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rcpt := range req.Recipients {
		g.Go(func() error {
			results[i] = d.sendOne(gctx, req, rcpt, attempts)
			return nil
		})
	}
	_ = g.Wait()

	agg := Aggregate{Total: len(results), Results: results}
	for _, res := range results {
		if res.Status == string(campaign.StatusSent) {
			agg.Succeeded++
		} else {
			agg.Failed++
		}
	}
	return agg, nil
}

// sendOne drives one recipient through the retry loop and records the
// outcome in the campaign log before returning it.
func (d *Dispatcher) sendOne(ctx context.Context, req Request, rcpt Recipient, maxAttempts int) Result {
	sendReq := provider.SendRequest{
		Recipient:    rcpt.Number,
		TemplateName: req.TemplateName,
		LanguageCode: req.LanguageCode,
		Components:   rcpt.Components,
	}

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempt++

		start := time.Now()
		result, err := req.Send(ctx, sendReq)
		if d.metrics != nil {
			d.metrics.ProviderCallDuration.WithLabelValues(string(req.Provider)).Observe(time.Since(start).Seconds())
		}

		if err == nil {
			return d.recordSent(ctx, req, rcpt, result.MessageID, attempt)
		}
		lastErr = err

		if !provider.IsRetryable(err) {
			break
		}
		if attempt < maxAttempts {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	return d.recordFailed(ctx, req, rcpt, lastErr, attempt)
}

func (d *Dispatcher) recordSent(ctx context.Context, req Request, rcpt Recipient, messageID string, attempt int) Result {
	rec := campaign.SendRecord{
		TenantID:           req.TenantID,
		CampaignName:       req.CampaignName,
		TemplateName:       req.TemplateName,
		LanguageCode:       req.LanguageCode,
		ProviderChannelRef: req.ProviderChannelRef,
		RecipientNumber:    rcpt.Number,
		ProviderMessageID:  messageID,
		Metadata:           rcpt.Metadata,
		SentAt:             time.Now().UTC(),
	}
	// The webhook for this message can arrive before this write returns, so
	// it runs on a context that survives run cancellation.
	if err := d.store.UpsertOnSend(context.WithoutCancel(ctx), rec); err != nil {
		d.log.DatabaseError("campaign_logs.upsert_on_send", err)
	}
	if d.metrics != nil {
		d.metrics.DispatchOutcomes.WithLabelValues("sent").Inc()
	}
	return Result{
		Recipient: rcpt.Number,
		Status:    string(campaign.StatusSent),
		MessageID: messageID,
		Attempts:  attempt,
	}
}

func (d *Dispatcher) recordFailed(ctx context.Context, req Request, rcpt Recipient, cause error, attempt int) Result {
	msg := "dispatch aborted before any attempt"
	if cause != nil {
		msg = cause.Error()
	}
	rec := campaign.FailureRecord{
		TenantID:           req.TenantID,
		CampaignName:       req.CampaignName,
		TemplateName:       req.TemplateName,
		LanguageCode:       req.LanguageCode,
		ProviderChannelRef: req.ProviderChannelRef,
		RecipientNumber:    rcpt.Number,
		ErrorMessage:       msg,
		Metadata:           rcpt.Metadata,
	}
	if err := d.store.MarkFailed(context.WithoutCancel(ctx), rec); err != nil {
		d.log.DatabaseError("campaign_logs.mark_failed", err)
	}
	if d.metrics != nil {
		d.metrics.DispatchOutcomes.WithLabelValues("failed").Inc()
	}
	return Result{
		Recipient: rcpt.Number,
		Status:    string(campaign.StatusFailed),
		Error:     msg,
		Attempts:  attempt,
	}
}

// backoff returns the delay before the next attempt: base doubled per
// completed attempt, capped.
func backoff(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
