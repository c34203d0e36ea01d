// Package registry exposes the agent roster to round processing. The
// arena consumes it as a narrow interface so the roster can live in a
// separate service later without touching the auction loop.
package registry

import (
	"context"
	"fmt"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

// Registry is the consumed agent-roster interface.
type Registry interface {
	// ListActive returns agents eligible to bid (ACTIVE or LOW_FUNDS).
	ListActive(ctx context.Context) ([]domain.Agent, error)
	// Refresh re-reads the given agents so callers see balances and
	// statuses written during the round.
	Refresh(ctx context.Context, agents []domain.Agent) ([]domain.Agent, error)
}

// StoreRegistry is the storage-backed roster.
type StoreRegistry struct {
	store storage.AgentStore
}

// New creates a roster over the agent store.
func New(store storage.AgentStore) *StoreRegistry {
	return &StoreRegistry{store: store}
}

func (r *StoreRegistry) ListActive(ctx context.Context) ([]domain.Agent, error) {
	agents, err := r.store.ListEligibleAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list eligible agents: %w", err)
	}
	return agents, nil
}

func (r *StoreRegistry) Refresh(ctx context.Context, agents []domain.Agent) ([]domain.Agent, error) {
	refreshed := make([]domain.Agent, 0, len(agents))
	for _, agent := range agents {
		current, err := r.store.GetAgent(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("refresh agent %s: %w", agent.ID, err)
		}
		refreshed = append(refreshed, current)
	}
	return refreshed, nil
}
