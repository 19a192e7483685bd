package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"wacampaign_backend/internal/events"
	"wacampaign_backend/internal/scheduler/repository"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// BatchRunner executes one dispatch batch. Implemented by the campaign
// service; defined here so the worker does not depend on it directly.
type BatchRunner interface {
	RunBatch(ctx context.Context, payload DispatchBatchPayload) (succeeded, failed int, err error)
}

// Worker consumes dispatch batch tasks.
type Worker struct {
	srv    *asynq.Server
	queue  string
	jobs   *repository.Repository
	runner BatchRunner
	bus    events.Bus
	log    *logger.Logger
}

// NewWorker creates the asynq server and wires the batch handler.
func NewWorker(cfg config.SchedulerConfig, jobs *repository.Repository, runner BatchRunner, bus events.Bus, log *logger.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.GetAsynqConcurrency(),
		Queues:      map[string]int{cfg.GetAsynqQueueName(): 1},
	})

	return &Worker{
		srv:    srv,
		queue:  cfg.GetAsynqQueueName(),
		jobs:   jobs,
		runner: runner,
		bus:    bus,
		log:    log,
	}, nil
}

// Run blocks, processing tasks until Shutdown is called.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDispatchBatch, w.handleDispatchBatch)
	return w.srv.Run(mux)
}

// Shutdown stops the worker, waiting for in-flight tasks.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) handleDispatchBatch(ctx context.Context, task *asynq.Task) error {
	var payload DispatchBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that cannot be decoded will never decode; do not retry.
		w.log.Error("dispatch batch payload undecodable", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	log := w.log.WithTenantID(payload.TenantID.String())
	succeeded, failed, err := w.runner.RunBatch(ctx, payload)
	if err != nil {
		log.Error("dispatch batch failed", "job_id", payload.JobID, "error", err)
		if markErr := w.jobs.MarkFailed(ctx, payload.JobID, err.Error()); markErr != nil {
			log.DatabaseError("dispatch_jobs.mark_failed", markErr)
		}
		return err
	}

	if err := w.jobs.RecordBatch(ctx, payload.JobID, succeeded, failed); err != nil {
		log.DatabaseError("dispatch_jobs.record_batch", err)
		return err
	}

	if payload.FinalBatch {
		return w.finishJob(ctx, log, payload)
	}
	return nil
}

func (w *Worker) finishJob(ctx context.Context, log *logger.Logger, payload DispatchBatchPayload) error {
	if err := w.jobs.Finish(ctx, payload.JobID); err != nil {
		log.DatabaseError("dispatch_jobs.finish", err)
		return err
	}

	job, err := w.jobs.Get(ctx, payload.TenantID, payload.JobID)
	if err != nil {
		log.DatabaseError("dispatch_jobs.get", err)
		return nil
	}

	w.bus.Publish(ctx, events.CampaignJobFinished{
		BaseEvent:    events.NewBaseEvent(),
		JobID:        job.ID,
		TenantID:     job.TenantID,
		CampaignName: job.CampaignName,
		Total:        job.Total,
		Succeeded:    job.Succeeded,
		Failed:       job.Failed,
	})
	log.Info("dispatch job finished",
		"job_id", job.ID, "total", job.Total, "succeeded", job.Succeeded, "failed", job.Failed)
	return nil
}
