package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/decision"
	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

type memPolicyStore struct {
	bids     []domain.Bid
	versions map[string][]domain.PolicyVersion
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{versions: map[string][]domain.PolicyVersion{}}
}

func (m *memPolicyStore) CreateBid(_ context.Context, bid domain.Bid) (domain.Bid, error) {
	bid.Sequence = int64(len(m.bids) + 1)
	m.bids = append(m.bids, bid)
	return bid, nil
}

func (m *memPolicyStore) ListBidsByJob(context.Context, string) ([]domain.Bid, error) {
	return nil, nil
}
func (m *memPolicyStore) SetBidStatus(context.Context, string, domain.BidStatus) error { return nil }

func (m *memPolicyStore) ListRecentBidsByAgent(_ context.Context, agentID string, limit int) ([]domain.Bid, error) {
	var recent []domain.Bid
	for i := len(m.bids) - 1; i >= 0 && len(recent) < limit; i-- {
		if m.bids[i].AgentID == agentID {
			recent = append(recent, m.bids[i])
		}
	}
	return recent, nil
}

func (m *memPolicyStore) AppendPolicyVersion(_ context.Context, version domain.PolicyVersion) (domain.PolicyVersion, error) {
	version.Version = int64(len(m.versions[version.AgentID]) + 1)
	m.versions[version.AgentID] = append(m.versions[version.AgentID], version)
	return version, nil
}

func (m *memPolicyStore) CurrentPolicy(_ context.Context, agentID string) (domain.PolicyVersion, error) {
	log := m.versions[agentID]
	if len(log) == 0 {
		return domain.PolicyVersion{}, storage.ErrNotFound
	}
	return log[len(log)-1], nil
}

func (m *memPolicyStore) ListPolicyVersions(_ context.Context, agentID string) ([]domain.PolicyVersion, error) {
	return m.versions[agentID], nil
}

func (m *memPolicyStore) LastPolicyByTrigger(_ context.Context, agentID string, trigger domain.PolicyTrigger) (domain.PolicyVersion, error) {
	log := m.versions[agentID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Trigger == trigger {
			return log[i], nil
		}
	}
	return domain.PolicyVersion{}, storage.ErrNotFound
}

func lostBid(agentID string, n int) domain.Bid {
	return domain.Bid{
		ID: fmt.Sprintf("b%d", n), JobID: fmt.Sprintf("j%d", n), AgentID: agentID,
		Amount: decimal.NewFromInt(1), Status: domain.BidLost,
	}
}

func TestEnsureInitialPolicy(t *testing.T) {
	store := newMemPolicyStore()
	svc := New(store, decision.NewStub(), Config{})
	ctx := context.Background()

	first, err := svc.EnsureInitialPolicy(ctx, "a1")
	if err != nil {
		t.Fatalf("ensure initial: %v", err)
	}
	if first.Version != 1 || first.Trigger != domain.TriggerInitial {
		t.Fatalf("version=%d trigger=%s, want 1/initial", first.Version, first.Trigger)
	}

	// Idempotent: a second call returns the existing version.
	again, err := svc.EnsureInitialPolicy(ctx, "a1")
	if err != nil {
		t.Fatalf("ensure initial again: %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("repeat version = %d, want 1", again.Version)
	}
	if len(store.versions["a1"]) != 1 {
		t.Fatalf("log length = %d, want 1", len(store.versions["a1"]))
	}
}

func TestMaybeReviseExceptionOnConsecutiveLosses(t *testing.T) {
	store := newMemPolicyStore()
	producer := decision.NewStub()
	svc := New(store, producer, Config{ConsecutiveLossThreshold: 3, QBRIntervalRounds: 100})
	ctx := context.Background()

	agent := domain.Agent{ID: "a1", Name: "alpha", Status: domain.AgentActive}
	if _, err := svc.EnsureInitialPolicy(ctx, agent.ID); err != nil {
		t.Fatalf("ensure initial: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.CreateBid(ctx, lostBid(agent.ID, i)); err != nil {
			t.Fatalf("create bid: %v", err)
		}
	}

	event := svc.MaybeRevise(ctx, agent, 10)
	if event == nil {
		t.Fatal("expected an exception event")
	}
	if event.Trigger != domain.TriggerException {
		t.Fatalf("trigger = %s, want exception", event.Trigger)
	}
	if event.Err != nil {
		t.Fatalf("event error = %v", event.Err)
	}
	if event.Version != 2 {
		t.Fatalf("new version = %d, want 2", event.Version)
	}

	// Cooldown: the same losses do not re-fire on the next round.
	if event := svc.MaybeRevise(ctx, agent, 11); event != nil {
		t.Fatalf("unexpected event during cooldown: %+v", event)
	}
}

func TestMaybeRevisePeriodicReview(t *testing.T) {
	store := newMemPolicyStore()
	producer := decision.NewStub()
	svc := New(store, producer, Config{QBRIntervalRounds: 20})
	ctx := context.Background()

	agent := domain.Agent{ID: "a1", Name: "alpha", Status: domain.AgentActive}
	if _, err := svc.EnsureInitialPolicy(ctx, agent.ID); err != nil {
		t.Fatalf("ensure initial: %v", err)
	}

	if event := svc.MaybeRevise(ctx, agent, 19); event != nil {
		t.Fatalf("review fired early: %+v", event)
	}

	event := svc.MaybeRevise(ctx, agent, 20)
	if event == nil || event.Trigger != domain.TriggerQBR {
		t.Fatalf("expected review event at round 20, got %+v", event)
	}
	if event.InvestorUpdate == "" {
		t.Fatal("periodic review must carry an investor update")
	}

	// The next review waits a full interval from the last one.
	if event := svc.MaybeRevise(ctx, agent, 25); event != nil {
		t.Fatalf("review re-fired early: %+v", event)
	}
	if event := svc.MaybeRevise(ctx, agent, 40); event == nil {
		t.Fatal("expected review event at round 40")
	}
}

func TestMaybeReviseProducerFailureIsNonFatal(t *testing.T) {
	store := newMemPolicyStore()
	producer := decision.NewStub()
	producer.Err = fmt.Errorf("model unavailable")
	svc := New(store, producer, Config{QBRIntervalRounds: 5})
	ctx := context.Background()

	agent := domain.Agent{ID: "a1", Status: domain.AgentActive}
	if _, err := svc.EnsureInitialPolicy(ctx, agent.ID); err != nil {
		t.Fatalf("ensure initial: %v", err)
	}

	event := svc.MaybeRevise(ctx, agent, 5)
	if event == nil {
		t.Fatal("expected a fired event carrying the failure")
	}
	if event.Err == nil {
		t.Fatal("event must surface the producer failure")
	}

	// The prior policy stays in effect: no new version appended.
	if len(store.versions["a1"]) != 1 {
		t.Fatalf("log length = %d, want 1 (initial only)", len(store.versions["a1"]))
	}
}
