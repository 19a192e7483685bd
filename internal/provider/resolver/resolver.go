// Package resolver binds a tenant's active channel to a concrete provider
// client, producing the provider-neutral send function the dispatcher runs.
package resolver

import (
	"context"
	"fmt"

	"wacampaign_backend/internal/provider"
	"wacampaign_backend/internal/provider/gateway"
	"wacampaign_backend/internal/provider/graph"
	"wacampaign_backend/internal/provider/repository"

	"github.com/google/uuid"
)

// ChannelStore looks up tenant channel credentials.
type ChannelStore interface {
	GetActiveChannel(ctx context.Context, tenantID uuid.UUID) (repository.Channel, error)
}

// Resolver maps tenants to bound send functions.
type Resolver struct {
	channels ChannelStore
	graph    *graph.Client
	gateway  *gateway.Client
}

// New creates a resolver over the channel store and the two provider clients.
func New(channels ChannelStore, graphClient *graph.Client, gatewayClient *gateway.Client) *Resolver {
	return &Resolver{channels: channels, graph: graphClient, gateway: gatewayClient}
}

// Resolve returns the tenant's bound send function and the channel it was
// bound from. Fails when the tenant has no active channel or the channel
// names an unknown provider.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID) (provider.SendFunc, repository.Channel, error) {
	ch, err := r.channels.GetActiveChannel(ctx, tenantID)
	if err != nil {
		return nil, repository.Channel{}, err
	}

	switch ch.Provider {
	case provider.NameGraph:
		creds := graph.Credentials{PhoneNumberID: ch.ChannelRef, AccessToken: ch.AccessToken}
		return r.graph.SendFunc(creds), ch, nil
	case provider.NameGateway:
		creds := gateway.Credentials{ChannelID: ch.ChannelRef, APIKey: ch.AccessToken}
		return r.gateway.SendFunc(creds), ch, nil
	default:
		return nil, repository.Channel{}, fmt.Errorf("unknown provider %q for tenant %s", ch.Provider, tenantID)
	}
}
