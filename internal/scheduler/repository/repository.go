// Package repository provides data access for dispatch job progress rows.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFound = errors.New("dispatch job not found")

// Job status values.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Job is one queued bulk dispatch and its running totals.
type Job struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CampaignName string
	Status       string
	Total        int
	Succeeded    int
	Failed       int
	LastError    *string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Repository provides data access for dispatch jobs.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new dispatch job repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a queued job row and returns its id.
func (r *Repository) Create(ctx context.Context, tenantID uuid.UUID, campaignName string, total int) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dispatch_jobs (tenant_id, campaign_name, total)
		VALUES ($1, $2, $3)
		RETURNING id
	`, tenantID, campaignName, total).Scan(&id)
	return id, err
}

// RecordBatch folds one batch outcome into the job totals and marks the job
// running. The increments are done in SQL so concurrent batch workers never
// lose counts.
func (r *Repository) RecordBatch(ctx context.Context, jobID uuid.UUID, succeeded, failed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dispatch_jobs
		SET succeeded = succeeded + $2,
			failed = failed + $3,
			status = CASE WHEN status = 'queued' THEN 'running' ELSE status END
		WHERE id = $1
	`, jobID, succeeded, failed)
	return err
}

// Finish marks the job finished.
func (r *Repository) Finish(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'finished', finished_at = now()
		WHERE id = $1
	`, jobID)
	return err
}

// MarkFailed marks the job failed with the given error detail.
func (r *Repository) MarkFailed(ctx context.Context, jobID uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'failed', last_error = $2, finished_at = now()
		WHERE id = $1
	`, jobID, lastError)
	return err
}

// Get returns one job scoped to its tenant.
func (r *Repository) Get(ctx context.Context, tenantID, jobID uuid.UUID) (Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, campaign_name, status, total, succeeded, failed,
			last_error, created_at, finished_at
		FROM dispatch_jobs
		WHERE id = $1 AND tenant_id = $2
	`, jobID, tenantID)

	var job Job
	err := row.Scan(&job.ID, &job.TenantID, &job.CampaignName, &job.Status,
		&job.Total, &job.Succeeded, &job.Failed, &job.LastError,
		&job.CreatedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}
