package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContactRepository reads tenant notification contacts.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository creates a contact repository.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// JobSummaryRecipients returns the email addresses subscribed to bulk job
// completion summaries for a tenant.
func (r *ContactRepository) JobSummaryRecipients(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT email FROM tenant_contacts
		WHERE tenant_id = $1 AND notify_job_summary
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
