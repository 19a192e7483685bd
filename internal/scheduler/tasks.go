// Package scheduler queues and executes job-style bulk dispatches through
// asynq. Large recipient lists are split into fixed-size batches; each batch
// is one task, so a worker crash loses at most one batch of progress.
package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeDispatchBatch is the asynq task type for one dispatch batch.
const TypeDispatchBatch = "campaigns:dispatch_batch"

// BatchRecipient is one recipient inside a queued batch.
type BatchRecipient struct {
	Number    string            `json:"number"`
	Variables map[string]string `json:"variables,omitempty"`
}

// DispatchBatchPayload is the wire payload of one dispatch batch task.
// FinalBatch marks the last batch of the job; the worker finalizes the job
// row and emits the completion event after processing it.
type DispatchBatchPayload struct {
	JobID        uuid.UUID        `json:"jobId"`
	TenantID     uuid.UUID        `json:"tenantId"`
	CampaignName string           `json:"campaignName"`
	TemplateName string           `json:"templateName"`
	Recipients   []BatchRecipient `json:"recipients"`
	Concurrency  int              `json:"concurrency"`
	MaxAttempts  int              `json:"maxAttempts"`
	FinalBatch   bool             `json:"finalBatch"`
}

// NewDispatchBatchTask builds the asynq task for one batch.
func NewDispatchBatchTask(payload DispatchBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDispatchBatch, data, asynq.MaxRetry(3)), nil
}
