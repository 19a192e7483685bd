// Package templates provides lookup of tenant message templates. Campaign
// sends only accept approved templates; the repository enforces that at
// query level.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrTemplateNotApproved = errors.New("template is not approved")
)

// Template is one tenant message template.
type Template struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	LanguageCode string
	Category     string
	Components   []map[string]any
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository provides data access for message templates.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new template repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetApproved returns the tenant's template by name, requiring approved
// status. A template that exists but is not approved yields
// ErrTemplateNotApproved so callers can report the distinction.
func (r *Repository) GetApproved(ctx context.Context, tenantID uuid.UUID, name string) (Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, language_code, category, components, status,
			created_at, updated_at
		FROM message_templates
		WHERE tenant_id = $1 AND name = $2
		ORDER BY CASE status WHEN 'approved' THEN 0 ELSE 1 END
		LIMIT 1
	`, tenantID, name)

	var tpl Template
	var components []byte
	err := row.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.LanguageCode,
		&tpl.Category, &components, &tpl.Status, &tpl.CreatedAt, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrTemplateNotFound
	}
	if err != nil {
		return Template{}, err
	}

	if len(components) > 0 {
		if err := json.Unmarshal(components, &tpl.Components); err != nil {
			return Template{}, err
		}
	}

	if tpl.Status != "approved" {
		return Template{}, ErrTemplateNotApproved
	}
	return tpl, nil
}
