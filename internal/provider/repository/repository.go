// Package repository provides data access for tenant provider channels.
package repository

import (
	"context"
	"errors"
	"time"

	"wacampaign_backend/internal/provider"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrChannelNotFound = errors.New("no active channel for tenant")

// Channel is one tenant's sending identity on an upstream provider.
// ChannelRef is the provider-side channel identifier (phone number id for
// graph, channel id for the gateway); AccessToken is the matching credential.
type Channel struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Provider    provider.Name
	ChannelRef  string
	AccessToken string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository provides data access for tenant channels.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new channel repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActiveChannel returns the tenant's single active channel. At most one
// active channel exists per tenant; the partial unique index enforces it.
func (r *Repository) GetActiveChannel(ctx context.Context, tenantID uuid.UUID) (Channel, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, provider, channel_ref, access_token, is_active,
			created_at, updated_at
		FROM tenant_channels
		WHERE tenant_id = $1 AND is_active
	`, tenantID)

	var ch Channel
	var name string
	err := row.Scan(&ch.ID, &ch.TenantID, &name, &ch.ChannelRef, &ch.AccessToken,
		&ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	ch.Provider = provider.Name(name)
	return ch, nil
}

// GetByChannelRef maps an inbound webhook's channel identifier back to the
// owning tenant's channel.
func (r *Repository) GetByChannelRef(ctx context.Context, name provider.Name, channelRef string) (Channel, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, provider, channel_ref, access_token, is_active,
			created_at, updated_at
		FROM tenant_channels
		WHERE provider = $1 AND channel_ref = $2
		ORDER BY is_active DESC, updated_at DESC
		LIMIT 1
	`, string(name), channelRef)

	var ch Channel
	var provName string
	err := row.Scan(&ch.ID, &ch.TenantID, &provName, &ch.ChannelRef, &ch.AccessToken,
		&ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	ch.Provider = provider.Name(provName)
	return ch, nil
}
