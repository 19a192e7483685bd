// Package repository provides the durable campaign log store: the single
// source of truth for per-message lifecycle state. All writes are single-row,
// keyed operations; concurrent writers are serialized by the unique
// (tenant_id, provider_message_id) index, never by an application lock.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wacampaign_backend/internal/campaign"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEntryNotFound = errors.New("campaign log entry not found")

// statusLevel renders the monotonic ordering as a SQL expression so the
// progression guard runs inside the row update itself.
func statusLevel(expr string) string {
	return fmt.Sprintf(`CASE %s
		WHEN 'pending' THEN 0
		WHEN 'processing' THEN 1
		WHEN 'sent' THEN 2
		WHEN 'delivered' THEN 3
		WHEN 'read' THEN 4
		WHEN 'completed' THEN 5
		WHEN 'failed' THEN 6
	END`, expr)
}

// Repository provides data access for campaign log entries.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new campaign log repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertOnSend records a provider-acknowledged send. If the reconciliation
// path already created the row (webhook arrived first), the dispatch-owned
// fields are filled in and the status is only raised, never lowered.
func (r *Repository) UpsertOnSend(ctx context.Context, rec campaign.SendRecord) error {
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO campaign_logs (
			tenant_id, campaign_name, template_name, language_code,
			provider_channel_ref, recipient_number, provider_message_id,
			status, metadata, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'sent', $8, $9)
		ON CONFLICT (tenant_id, provider_message_id) WHERE provider_message_id IS NOT NULL
		DO UPDATE SET
			campaign_name = EXCLUDED.campaign_name,
			template_name = EXCLUDED.template_name,
			language_code = EXCLUDED.language_code,
			provider_channel_ref = EXCLUDED.provider_channel_ref,
			metadata = EXCLUDED.metadata,
			status = CASE WHEN %s > %s THEN EXCLUDED.status ELSE campaign_logs.status END,
			sent_at = COALESCE(campaign_logs.sent_at, EXCLUDED.sent_at),
			updated_at = now()
	`, statusLevel("EXCLUDED.status"), statusLevel("campaign_logs.status"))

	_, err = r.pool.Exec(ctx, query,
		rec.TenantID, rec.CampaignName, rec.TemplateName, rec.LanguageCode,
		rec.ProviderChannelRef, rec.RecipientNumber, rec.ProviderMessageID,
		metadata, rec.SentAt,
	)
	return err
}

// MarkFailed records a terminal dispatch failure. No provider message id
// exists for these rows, so this is a plain insert.
func (r *Repository) MarkFailed(ctx context.Context, rec campaign.FailureRecord) error {
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaign_logs (
			tenant_id, campaign_name, template_name, language_code,
			provider_channel_ref, recipient_number, status, error_message, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'failed', $7, $8)
	`,
		rec.TenantID, rec.CampaignName, rec.TemplateName, rec.LanguageCode,
		rec.ProviderChannelRef, rec.RecipientNumber, rec.ErrorMessage, metadata,
	)
	return err
}

// UpdateByMessageID applies a status update to an existing row under the
// monotonic progression guard. Returns whether the update was applied.
// Lifecycle timestamps are first-writer-wins; error detail may be refined by
// a later failure event.
func (r *Repository) UpdateByMessageID(ctx context.Context, tenantID uuid.UUID, messageID string, upd campaign.StatusUpdate) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE campaign_logs SET
			status = $3,
			sent_at = CASE WHEN $3 = 'sent' THEN COALESCE(sent_at, $4) ELSE sent_at END,
			delivered_at = CASE WHEN $3 = 'delivered' THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
			read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, $4) ELSE read_at END,
			error_message = COALESCE($5, error_message),
			updated_at = now()
		WHERE tenant_id = $1 AND provider_message_id = $2
			AND %s > %s
	`, statusLevel("$3"), statusLevel("status"))

	tag, err := r.pool.Exec(ctx, query,
		tenantID, messageID, string(upd.Status), upd.Timestamp, upd.ErrorMessage,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RefineFailureDetail replaces the error detail of an already-failed row.
// The status does not move, so this never counts as an applied event; it
// only keeps the richest failure description a provider has reported.
func (r *Repository) RefineFailureDetail(ctx context.Context, tenantID uuid.UUID, messageID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaign_logs
		SET error_message = $3, updated_at = now()
		WHERE tenant_id = $1 AND provider_message_id = $2 AND status = 'failed'
	`, tenantID, messageID, errorMessage)
	return err
}

// CreateOrUpdateFromWebhook creates a webhook-lineage row for a message the
// dispatch path has not persisted yet, keyed on (tenant, provider message id)
// so a racing dispatch write becomes an update instead of a duplicate row.
// Returns whether the event changed the row.
func (r *Repository) CreateOrUpdateFromWebhook(ctx context.Context, rec campaign.WebhookRecord) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO campaign_logs (
			tenant_id, campaign_name, template_name, recipient_number,
			provider_message_id, status, error_message,
			sent_at, delivered_at, read_at
		)
		VALUES ($1, $2, '', $3, $4, $5, $6,
			CASE WHEN $5 = 'sent' THEN $7::timestamptz END,
			CASE WHEN $5 = 'delivered' THEN $7::timestamptz END,
			CASE WHEN $5 = 'read' THEN $7::timestamptz END)
		ON CONFLICT (tenant_id, provider_message_id) WHERE provider_message_id IS NOT NULL
		DO UPDATE SET
			status = EXCLUDED.status,
			error_message = COALESCE(EXCLUDED.error_message, campaign_logs.error_message),
			sent_at = COALESCE(campaign_logs.sent_at, EXCLUDED.sent_at),
			delivered_at = COALESCE(campaign_logs.delivered_at, EXCLUDED.delivered_at),
			read_at = COALESCE(campaign_logs.read_at, EXCLUDED.read_at),
			updated_at = now()
		WHERE %s > %s
	`, statusLevel("EXCLUDED.status"), statusLevel("campaign_logs.status"))

	tag, err := r.pool.Exec(ctx, query,
		rec.TenantID, campaign.WebhookCampaignName, rec.RecipientNumber,
		rec.ProviderMessageID, string(rec.Status), rec.ErrorMessage, rec.Timestamp,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByMessageID retrieves a ledger row by its provider message id.
func (r *Repository) GetByMessageID(ctx context.Context, tenantID uuid.UUID, messageID string) (campaign.LogEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, campaign_name, template_name, language_code,
			provider_channel_ref, recipient_number, provider_message_id,
			status, error_message, metadata, sent_at, delivered_at, read_at,
			created_at, updated_at
		FROM campaign_logs
		WHERE tenant_id = $1 AND provider_message_id = $2
	`, tenantID, messageID)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return campaign.LogEntry{}, ErrEntryNotFound
	}
	return entry, err
}

// ListByCampaign returns the ledger rows of one campaign, newest first.
func (r *Repository) ListByCampaign(ctx context.Context, tenantID uuid.UUID, campaignName string, limit int) ([]campaign.LogEntry, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, campaign_name, template_name, language_code,
			provider_channel_ref, recipient_number, provider_message_id,
			status, error_message, metadata, sent_at, delivered_at, read_at,
			created_at, updated_at
		FROM campaign_logs
		WHERE tenant_id = $1 AND campaign_name = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, campaignName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []campaign.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// StatusCount is one line of a campaign summary.
type StatusCount struct {
	Status campaign.Status
	Count  int
}

// CampaignSummary returns per-status message counts for one campaign.
func (r *Repository) CampaignSummary(ctx context.Context, tenantID uuid.UUID, campaignName string) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM campaign_logs
		WHERE tenant_id = $1 AND campaign_name = $2
		GROUP BY status
		ORDER BY status
	`, tenantID, campaignName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var sc StatusCount
		var status string
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, err
		}
		sc.Status = campaign.Status(status)
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (campaign.LogEntry, error) {
	var entry campaign.LogEntry
	var status string
	var metadata []byte
	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.CampaignName, &entry.TemplateName,
		&entry.LanguageCode, &entry.ProviderChannelRef, &entry.RecipientNumber,
		&entry.ProviderMessageID, &status, &entry.ErrorMessage, &metadata,
		&entry.SentAt, &entry.DeliveredAt, &entry.ReadAt,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return campaign.LogEntry{}, err
	}
	entry.Status = campaign.Status(status)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &entry.Metadata)
	}
	return entry, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}
