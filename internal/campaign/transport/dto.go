// Package transport defines the campaign API request and response shapes.
package transport

import (
	"time"

	"wacampaign_backend/internal/campaign"
	"wacampaign_backend/internal/campaign/dispatcher"
	"wacampaign_backend/internal/campaign/repository"
	"wacampaign_backend/internal/campaign/service"
	jobrepo "wacampaign_backend/internal/scheduler/repository"

	"github.com/google/uuid"
)

// RecipientRequest is one recipient in a send request.
type RecipientRequest struct {
	Number    string            `json:"number" binding:"required"`
	Variables map[string]string `json:"variables"`
}

// SendCampaignRequest is the body of POST /campaigns/send and /campaigns/bulk.
type SendCampaignRequest struct {
	CampaignName string             `json:"campaignName" binding:"required,max=120"`
	TemplateName string             `json:"templateName" binding:"required,max=120,template_name"`
	Recipients   []RecipientRequest `json:"recipients" binding:"required,min=1,dive"`
	Concurrency  int                `json:"concurrency" binding:"omitempty,min=1,max=50"`
	MaxAttempts  int                `json:"maxAttempts" binding:"omitempty,min=1,max=10"`
}

// ToInput converts the request to the service input.
func (r SendCampaignRequest) ToInput(forceJob bool) service.SendInput {
	recipients := make([]service.RecipientInput, len(r.Recipients))
	for i, rcpt := range r.Recipients {
		recipients[i] = service.RecipientInput{Number: rcpt.Number, Variables: rcpt.Variables}
	}
	return service.SendInput{
		CampaignName: r.CampaignName,
		TemplateName: r.TemplateName,
		Recipients:   recipients,
		Concurrency:  r.Concurrency,
		MaxAttempts:  r.MaxAttempts,
		ForceJob:     forceJob,
	}
}

// SendCampaignResponse is the response of a send request.
type SendCampaignResponse struct {
	Mode       string              `json:"mode"`
	JobID      *uuid.UUID          `json:"jobId,omitempty"`
	Total      int                 `json:"total"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Duplicates int                 `json:"duplicates"`
	Results    []dispatcher.Result `json:"results,omitempty"`
}

// FromOutcome converts a service outcome to the response shape.
func FromOutcome(out service.SendOutcome) SendCampaignResponse {
	return SendCampaignResponse{
		Mode:       out.Mode,
		JobID:      out.JobID,
		Total:      out.Total,
		Succeeded:  out.Succeeded,
		Failed:     out.Failed,
		Duplicates: out.Duplicates,
		Results:    out.Results,
	}
}

// LogEntryResponse is one campaign log row.
type LogEntryResponse struct {
	ID                uuid.UUID  `json:"id"`
	CampaignName      string     `json:"campaignName"`
	TemplateName      string     `json:"templateName"`
	RecipientNumber   string     `json:"recipientNumber"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// FromEntries converts ledger rows to the response shape.
func FromEntries(entries []campaign.LogEntry) []LogEntryResponse {
	out := make([]LogEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = LogEntryResponse{
			ID:                e.ID,
			CampaignName:      e.CampaignName,
			TemplateName:      e.TemplateName,
			RecipientNumber:   e.RecipientNumber,
			ProviderMessageID: e.ProviderMessageID,
			Status:            string(e.Status),
			ErrorMessage:      e.ErrorMessage,
			SentAt:            e.SentAt,
			DeliveredAt:       e.DeliveredAt,
			ReadAt:            e.ReadAt,
			CreatedAt:         e.CreatedAt,
		}
	}
	return out
}

// SummaryResponse is the per-status count summary of one campaign.
type SummaryResponse struct {
	CampaignName string         `json:"campaignName"`
	Counts       map[string]int `json:"counts"`
	Total        int            `json:"total"`
}

// FromSummary converts status counts to the response shape.
func FromSummary(campaignName string, counts []repository.StatusCount) SummaryResponse {
	resp := SummaryResponse{CampaignName: campaignName, Counts: make(map[string]int, len(counts))}
	for _, sc := range counts {
		resp.Counts[string(sc.Status)] = sc.Count
		resp.Total += sc.Count
	}
	return resp
}

// JobResponse is the progress view of one dispatch job.
type JobResponse struct {
	ID           uuid.UUID  `json:"id"`
	CampaignName string     `json:"campaignName"`
	Status       string     `json:"status"`
	Total        int        `json:"total"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	LastError    *string    `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// FromJob converts a job row to the response shape.
func FromJob(job jobrepo.Job) JobResponse {
	return JobResponse{
		ID:           job.ID,
		CampaignName: job.CampaignName,
		Status:       job.Status,
		Total:        job.Total,
		Succeeded:    job.Succeeded,
		Failed:       job.Failed,
		LastError:    job.LastError,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
}
