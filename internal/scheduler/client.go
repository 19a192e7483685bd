package scheduler

import (
	"context"
	"fmt"

	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Client enqueues dispatch batch tasks.
type Client struct {
	client *asynq.Client
	queue  string
	log    *logger.Logger
}

// NewClient creates an asynq client from the redis configuration.
func NewClient(cfg config.SchedulerConfig, log *logger.Logger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return &Client{
		client: asynq.NewClient(opt),
		queue:  cfg.GetAsynqQueueName(),
		log:    log,
	}, nil
}

// EnqueueDispatchBatch queues one batch for background execution.
func (c *Client) EnqueueDispatchBatch(ctx context.Context, payload DispatchBatchPayload) error {
	task, err := NewDispatchBatchTask(payload)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	if err != nil {
		return fmt.Errorf("enqueue dispatch batch: %w", err)
	}
	c.log.Debug("dispatch batch enqueued",
		"job_id", payload.JobID, "task_id", info.ID, "recipients", len(payload.Recipients))
	return nil
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}
