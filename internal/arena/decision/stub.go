package decision

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
)

// Stub is a deterministic in-memory producer for tests and offline runs.
// It nudges aggressiveness up after losses and down after wins.
type Stub struct {
	mu sync.Mutex

	// Err, when set, is returned from every Decide call.
	Err   error
	Calls []Context
}

// NewStub creates a stub producer.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Decide(_ context.Context, payload Context) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return Decision{}, s.Err
	}
	s.Calls = append(s.Calls, payload)

	policy := payload.CurrentPolicy
	if policy.SchemaVersion == 0 {
		policy = domain.DefaultPolicyContent()
	}

	wins := 0
	for _, bid := range payload.RecentBids {
		if bid.Won {
			wins++
		}
	}
	if len(payload.RecentBids) > 0 && wins*2 < len(payload.RecentBids) {
		policy.Aggressiveness = clamp01(policy.Aggressiveness + 0.1)
	} else {
		policy.Aggressiveness = clamp01(policy.Aggressiveness - 0.05)
	}

	return Decision{
		Policy:         policy,
		Rationale:      "adjusted aggressiveness from recent win rate",
		InvestorUpdate: "Periodic review applied; bidding posture tuned to recent results.",
		Cost:           decimal.NewFromFloat(0.0005),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
