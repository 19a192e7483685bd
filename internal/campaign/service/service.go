// Package service implements campaign business logic: recipient validation,
// the duplicate gate, credit checks and the sync/job dispatch split.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"wacampaign_backend/internal/billing"
	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/campaign/dispatcher"
	campaignrepo "wacampaign_backend/internal/campaign/repository"
	"wacampaign_backend/internal/provider"
	providerrepo "wacampaign_backend/internal/provider/repository"
	"wacampaign_backend/internal/scheduler"
	jobrepo "wacampaign_backend/internal/scheduler/repository"
	"wacampaign_backend/internal/templates"
	"wacampaign_backend/platform/apperr"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"
	"wacampaign_backend/platform/metrics"
	"wacampaign_backend/platform/phone"

	"github.com/google/uuid"
)

// Billing transaction reasons.
const (
	ReasonCampaignSend  = "campaign_send"
	ReasonDuplicateSend = "duplicate_send"
)

// Dispatch modes reported to callers.
const (
	ModeSync = "sync"
	ModeJob  = "job"
)

// Result statuses beyond the dispatcher's sent/failed.
const StatusDuplicate = "duplicate"

// maxRecipients bounds one send request regardless of mode.
const maxRecipients = 10000

// LogStore is the campaign log access the service reads.
type LogStore interface {
	ListByCampaign(ctx context.Context, tenantID uuid.UUID, campaignName string, limit int) ([]campaign.LogEntry, error)
	CampaignSummary(ctx context.Context, tenantID uuid.UUID, campaignName string) ([]campaignrepo.StatusCount, error)
}

// Dispatcher runs one bounded-concurrency dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.Aggregate, error)
}

// SendResolver binds a tenant to its provider send function.
type SendResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (provider.SendFunc, providerrepo.Channel, error)
}

// TemplateStore looks up approved templates.
type TemplateStore interface {
	GetApproved(ctx context.Context, tenantID uuid.UUID, name string) (templates.Template, error)
}

// CreditLedger is the billing access the service needs.
type CreditLedger interface {
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	Deduct(ctx context.Context, tenantID uuid.UUID, amount int64, reason string) error
}

// DuplicateChecker is the duplicate gate.
type DuplicateChecker interface {
	Check(ctx context.Context, tenantID uuid.UUID, templateName, recipient string, variables map[string]string) (billing.DedupeResult, error)
}

// JobStore creates and reads dispatch job rows.
type JobStore interface {
	Create(ctx context.Context, tenantID uuid.UUID, campaignName string, total int) (uuid.UUID, error)
	Finish(ctx context.Context, jobID uuid.UUID) error
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (jobrepo.Job, error)
}

// BatchEnqueuer queues dispatch batches for background execution.
type BatchEnqueuer interface {
	EnqueueDispatchBatch(ctx context.Context, payload scheduler.DispatchBatchPayload) error
}

// RecipientInput is one requested recipient with its template variables.
type RecipientInput struct {
	Number    string
	Variables map[string]string
}

// SendInput is one campaign send request.
type SendInput struct {
	CampaignName string
	TemplateName string
	Recipients   []RecipientInput
	Concurrency  int
	MaxAttempts  int
	// ForceJob routes the request through the job queue even when it fits
	// the sync limit.
	ForceJob bool
}

// SendOutcome is the service-level result of a send request. Sync dispatches
// carry the full aggregate; job dispatches carry the job id to poll.
type SendOutcome struct {
	Mode       string
	JobID      *uuid.UUID
	Total      int
	Succeeded  int
	Failed     int
	Duplicates int
	Results    []dispatcher.Result
}

// Service coordinates campaign sends.
type Service struct {
	logs       LogStore
	dispatcher Dispatcher
	resolver   SendResolver
	templates  TemplateStore
	ledger     CreditLedger
	dedupe     DuplicateChecker
	jobs       JobStore
	enqueuer   BatchEnqueuer
	cfg        config.DispatchConfig
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// New creates a campaign service.
func New(
	logs LogStore,
	disp Dispatcher,
	res SendResolver,
	tpls TemplateStore,
	ledger CreditLedger,
	dedupe DuplicateChecker,
	jobs JobStore,
	enqueuer BatchEnqueuer,
	cfg config.DispatchConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		logs:       logs,
		dispatcher: disp,
		resolver:   res,
		templates:  tpls,
		ledger:     ledger,
		dedupe:     dedupe,
		jobs:       jobs,
		enqueuer:   enqueuer,
		cfg:        cfg,
		log:        log,
		metrics:    m,
	}
}

type invalidRecipient struct {
	Index  int    `json:"index"`
	Number string `json:"number"`
	Reason string `json:"reason"`
}

// Send validates, gates and dispatches one campaign send. Requests at or
// under the sync recipient limit run inline and return the full aggregate;
// larger requests are queued as a job.
func (s *Service) Send(ctx context.Context, tenantID uuid.UUID, input SendInput) (SendOutcome, error) {
	log := s.log.WithContext(ctx).WithTenantID(tenantID.String())

	recipients, err := s.validateRecipients(input.Recipients)
	if err != nil {
		return SendOutcome{}, err
	}

	balance, err := s.ledger.Balance(ctx, tenantID)
	if err != nil {
		return SendOutcome{}, apperr.Wrap(apperr.KindUnavailable, "credit balance unavailable", err)
	}
	required := int64(len(recipients))
	if balance < required {
		return SendOutcome{}, apperr.PaymentRequired("insufficient credit for campaign").
			WithDetails(map[string]int64{"required": required, "balance": balance})
	}

	tpl, err := s.lookupTemplate(ctx, tenantID, input.TemplateName)
	if err != nil {
		return SendOutcome{}, err
	}

	send, channel, err := s.resolveChannel(ctx, tenantID)
	if err != nil {
		return SendOutcome{}, err
	}

	fresh, duplicates := s.gateDuplicates(ctx, tenantID, input.TemplateName, recipients)
	if n := len(duplicates); n > 0 {
		// Duplicates are suppressed, not free: the tenant asked for the sends.
		if err := s.ledger.Deduct(ctx, tenantID, int64(n), ReasonDuplicateSend); err != nil {
			log.Error("duplicate billing failed", "count", n, "error", err)
		}
		if s.metrics != nil {
			s.metrics.DuplicatesBlocked.Add(float64(n))
			s.metrics.CreditDeductions.WithLabelValues(ReasonDuplicateSend).Add(float64(n))
		}
		log.Info("duplicates suppressed", "campaign", input.CampaignName, "count", n)
	}

	if input.ForceJob || len(input.Recipients) > s.cfg.GetDispatchSyncRecipientLimit() {
		return s.enqueueJob(ctx, tenantID, input, fresh, duplicates)
	}

	agg, err := s.dispatcher.Dispatch(ctx, dispatcher.Request{
		TenantID:           tenantID,
		CampaignName:       input.CampaignName,
		TemplateName:       tpl.Name,
		LanguageCode:       tpl.LanguageCode,
		Provider:           channel.Provider,
		ProviderChannelRef: channel.ChannelRef,
		Recipients:         toDispatchRecipients(fresh),
		Concurrency:        input.Concurrency,
		MaxAttempts:        input.MaxAttempts,
		Send:               send,
	})
	if err != nil {
		return SendOutcome{}, apperr.Wrap(apperr.KindInternal, "dispatch failed", err)
	}

	s.billSends(ctx, tenantID, agg.Succeeded)

	results := agg.Results
	for _, dup := range duplicates {
		results = append(results, dispatcher.Result{Recipient: dup.Number, Status: StatusDuplicate})
	}

	return SendOutcome{
		Mode:       ModeSync,
		Total:      len(recipients),
		Succeeded:  agg.Succeeded,
		Failed:     agg.Failed,
		Duplicates: len(duplicates),
		Results:    results,
	}, nil
}

// RunBatch executes one queued batch. Validation and the duplicate gate ran
// at enqueue time; this path resolves, dispatches and bills.
func (s *Service) RunBatch(ctx context.Context, payload scheduler.DispatchBatchPayload) (int, int, error) {
	tpl, err := s.lookupTemplate(ctx, payload.TenantID, payload.TemplateName)
	if err != nil {
		return 0, 0, err
	}
	send, channel, err := s.resolveChannel(ctx, payload.TenantID)
	if err != nil {
		return 0, 0, err
	}

	recipients := make([]RecipientInput, len(payload.Recipients))
	for i, r := range payload.Recipients {
		recipients[i] = RecipientInput{Number: r.Number, Variables: r.Variables}
	}

	agg, err := s.dispatcher.Dispatch(ctx, dispatcher.Request{
		TenantID:           payload.TenantID,
		CampaignName:       payload.CampaignName,
		TemplateName:       tpl.Name,
		LanguageCode:       tpl.LanguageCode,
		Provider:           channel.Provider,
		ProviderChannelRef: channel.ChannelRef,
		Recipients:         toDispatchRecipients(recipients),
		Concurrency:        payload.Concurrency,
		MaxAttempts:        payload.MaxAttempts,
		Send:               send,
	})
	if err != nil {
		return 0, 0, err
	}

	s.billSends(ctx, payload.TenantID, agg.Succeeded)
	return agg.Succeeded, agg.Failed, nil
}

// Logs returns the ledger rows of one campaign.
func (s *Service) Logs(ctx context.Context, tenantID uuid.UUID, campaignName string, limit int) ([]campaign.LogEntry, error) {
	if campaignName == "" {
		return nil, apperr.Validation("campaign name is required")
	}
	entries, err := s.logs.ListByCampaign(ctx, tenantID, campaignName, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "campaign logs unavailable", err)
	}
	return entries, nil
}

// Summary returns per-status counts for one campaign.
func (s *Service) Summary(ctx context.Context, tenantID uuid.UUID, campaignName string) ([]campaignrepo.StatusCount, error) {
	if campaignName == "" {
		return nil, apperr.Validation("campaign name is required")
	}
	counts, err := s.logs.CampaignSummary(ctx, tenantID, campaignName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "campaign summary unavailable", err)
	}
	return counts, nil
}

// Job returns one dispatch job's progress.
func (s *Service) Job(ctx context.Context, tenantID, jobID uuid.UUID) (jobrepo.Job, error) {
	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if errors.Is(err, jobrepo.ErrJobNotFound) {
		return jobrepo.Job{}, apperr.NotFound("dispatch job not found")
	}
	if err != nil {
		return jobrepo.Job{}, apperr.Wrap(apperr.KindUnavailable, "dispatch job unavailable", err)
	}
	return job, nil
}

// validateRecipients normalizes every number and rejects the request if any
// recipient is invalid, listing every offender rather than the first.
func (s *Service) validateRecipients(inputs []RecipientInput) ([]RecipientInput, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("at least one recipient is required")
	}
	if len(inputs) > maxRecipients {
		return nil, apperr.Validation(fmt.Sprintf("too many recipients: %d exceeds the limit of %d", len(inputs), maxRecipients))
	}

	var invalid []invalidRecipient
	out := make([]RecipientInput, 0, len(inputs))
	for i, in := range inputs {
		if !phone.IsValid(in.Number) {
			invalid = append(invalid, invalidRecipient{
				Index: i, Number: in.Number, Reason: "not a valid phone number",
			})
			continue
		}
		out = append(out, RecipientInput{
			Number:    phone.NormalizeE164(in.Number),
			Variables: in.Variables,
		})
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("request contains invalid recipients").
			WithDetails(map[string]any{"invalidRecipients": invalid})
	}
	return out, nil
}

func (s *Service) lookupTemplate(ctx context.Context, tenantID uuid.UUID, name string) (templates.Template, error) {
	if name == "" {
		return templates.Template{}, apperr.Validation("template name is required")
	}
	tpl, err := s.templates.GetApproved(ctx, tenantID, name)
	switch {
	case errors.Is(err, templates.ErrTemplateNotFound):
		return templates.Template{}, apperr.NotFound(fmt.Sprintf("template %q not found", name))
	case errors.Is(err, templates.ErrTemplateNotApproved):
		return templates.Template{}, apperr.Validation(fmt.Sprintf("template %q is not approved", name))
	case err != nil:
		return templates.Template{}, apperr.Wrap(apperr.KindUnavailable, "template lookup failed", err)
	}
	return tpl, nil
}

func (s *Service) resolveChannel(ctx context.Context, tenantID uuid.UUID) (provider.SendFunc, providerrepo.Channel, error) {
	send, channel, err := s.resolver.Resolve(ctx, tenantID)
	if errors.Is(err, providerrepo.ErrChannelNotFound) {
		return nil, providerrepo.Channel{}, apperr.Validation("tenant has no active provider channel")
	}
	if err != nil {
		return nil, providerrepo.Channel{}, apperr.Wrap(apperr.KindUnavailable, "channel resolution failed", err)
	}
	return send, channel, nil
}

// gateDuplicates splits recipients into fresh sends and window duplicates.
// A failing detector degrades to letting the send through.
func (s *Service) gateDuplicates(ctx context.Context, tenantID uuid.UUID, templateName string, recipients []RecipientInput) (fresh, duplicates []RecipientInput) {
	for _, r := range recipients {
		res, err := s.dedupe.Check(ctx, tenantID, templateName, r.Number, r.Variables)
		if err != nil {
			s.log.Warn("duplicate check failed, allowing send", "recipient", r.Number, "error", err)
			fresh = append(fresh, r)
			continue
		}
		if res.IsDuplicate {
			duplicates = append(duplicates, r)
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh, duplicates
}

func (s *Service) enqueueJob(ctx context.Context, tenantID uuid.UUID, input SendInput, fresh, duplicates []RecipientInput) (SendOutcome, error) {
	jobID, err := s.jobs.Create(ctx, tenantID, input.CampaignName, len(fresh))
	if err != nil {
		return SendOutcome{}, apperr.Wrap(apperr.KindUnavailable, "could not create dispatch job", err)
	}

	// With every recipient suppressed as a duplicate there is no batch to
	// queue, so no FinalBatch would ever close the job. Finish it here so
	// pollers see a terminal state.
	if len(fresh) == 0 {
		if err := s.jobs.Finish(ctx, jobID); err != nil {
			return SendOutcome{}, apperr.Wrap(apperr.KindUnavailable, "could not finish empty dispatch job", err)
		}
		return SendOutcome{
			Mode:       ModeJob,
			JobID:      &jobID,
			Total:      len(duplicates),
			Duplicates: len(duplicates),
		}, nil
	}

	batchSize := s.cfg.GetDispatchJobBatchSize()
	if batchSize < 1 {
		batchSize = 50
	}
	for start := 0; start < len(fresh); start += batchSize {
		end := min(start+batchSize, len(fresh))
		batch := make([]scheduler.BatchRecipient, 0, end-start)
		for _, r := range fresh[start:end] {
			batch = append(batch, scheduler.BatchRecipient{Number: r.Number, Variables: r.Variables})
		}
		payload := scheduler.DispatchBatchPayload{
			JobID:        jobID,
			TenantID:     tenantID,
			CampaignName: input.CampaignName,
			TemplateName: input.TemplateName,
			Recipients:   batch,
			Concurrency:  input.Concurrency,
			MaxAttempts:  input.MaxAttempts,
			FinalBatch:   end == len(fresh),
		}
		if err := s.enqueuer.EnqueueDispatchBatch(ctx, payload); err != nil {
			return SendOutcome{}, apperr.Wrap(apperr.KindUnavailable, "could not enqueue dispatch batch", err)
		}
	}

	return SendOutcome{
		Mode:       ModeJob,
		JobID:      &jobID,
		Total:      len(fresh) + len(duplicates),
		Duplicates: len(duplicates),
	}, nil
}

func (s *Service) billSends(ctx context.Context, tenantID uuid.UUID, succeeded int) {
	if succeeded == 0 {
		return
	}
	// The balance was pre-checked, but a concurrent run can still drain it;
	// the messages are already out either way, so a failed deduction is
	// logged for operator follow-up instead of failing the request.
	if err := s.ledger.Deduct(context.WithoutCancel(ctx), tenantID, int64(succeeded), ReasonCampaignSend); err != nil {
		s.log.WithTenantID(tenantID.String()).Error("send billing failed", "count", succeeded, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.CreditDeductions.WithLabelValues(ReasonCampaignSend).Add(float64(succeeded))
	}
}

// toDispatchRecipients converts service recipients to dispatcher recipients,
// expanding variables into the provider-neutral body component.
func toDispatchRecipients(inputs []RecipientInput) []dispatcher.Recipient {
	out := make([]dispatcher.Recipient, len(inputs))
	for i, in := range inputs {
		var metadata map[string]any
		if len(in.Variables) > 0 {
			metadata = map[string]any{"variables": in.Variables}
		}
		out[i] = dispatcher.Recipient{
			Number:     in.Number,
			Components: buildComponents(in.Variables),
			Metadata:   metadata,
		}
	}
	return out
}

// buildComponents renders variables as body parameters in sorted key order,
// so identical variable sets always produce identical payloads.
func buildComponents(variables map[string]string) []map[string]any {
	if len(variables) == 0 {
		return nil
	}
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		params = append(params, map[string]any{"type": "text", "text": variables[k]})
	}
	return []map[string]any{{"type": "body", "parameters": params}}
}
