// Package policy maintains each agent's versioned bidding strategy and
// decides when to revise it: synchronously on anomalous performance, or
// on the periodic review interval.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openagora/arena/internal/arena/decision"
	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/platform/id"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// Config tunes the revision triggers. Zero values fall back to the
// defaults below.
type Config struct {
	// ConsecutiveLossThreshold fires an exception revision after this
	// many losses in a row. Defaults to 5.
	ConsecutiveLossThreshold int
	// QBRIntervalRounds fires a periodic review this many rounds after
	// the agent's last review. Defaults to 20.
	QBRIntervalRounds int64
	// HistoryLimit bounds the recent-bid window in the producer context.
	// Defaults to 20.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.ConsecutiveLossThreshold <= 0 {
		c.ConsecutiveLossThreshold = 5
	}
	if c.QBRIntervalRounds <= 0 {
		c.QBRIntervalRounds = 20
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

// Event reports one wake-up outcome for an agent in a round. A fired
// event with Err set means the producer failed and the prior policy
// stays in effect.
type Event struct {
	AgentID        string
	Trigger        domain.PolicyTrigger
	Version        int64
	InvestorUpdate string
	Err            error
}

// Store is the persistence slice the adaptation service needs.
type Store interface {
	storage.BidStore
	storage.PolicyStore
}

// Service owns the policy version log and its revision triggers.
type Service struct {
	store    Store
	producer decision.Producer
	cfg      Config
	now      func() time.Time
}

// New creates an adaptation service.
func New(store Store, producer decision.Producer, cfg Config) *Service {
	return &Service{store: store, producer: producer, cfg: cfg.withDefaults(), now: time.Now}
}

// EnsureInitialPolicy appends the default policy as version 1 when the
// agent has no policy log yet. Returns the current version either way.
func (s *Service) EnsureInitialPolicy(ctx context.Context, agentID string) (domain.PolicyVersion, error) {
	current, err := s.store.CurrentPolicy(ctx, agentID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.PolicyVersion{}, fmt.Errorf("read current policy: %w", err)
	}

	versionID, err := id.NewID()
	if err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("generate policy id: %w", err)
	}
	return s.store.AppendPolicyVersion(ctx, domain.PolicyVersion{
		ID:        versionID,
		AgentID:   agentID,
		Trigger:   domain.TriggerInitial,
		Content:   domain.DefaultPolicyContent(),
		Rationale: "initial conservative policy",
		CreatedAt: s.now().UTC(),
	})
}

// MaybeRevise checks both trigger paths for the agent at the given round
// and revises the policy when one fires. Producer failure is non-fatal:
// the event carries the error for operator visibility and the prior
// policy remains in effect. Returns nil when no trigger fired.
func (s *Service) MaybeRevise(ctx context.Context, agent domain.Agent, round int64) *Event {
	trigger, fired, err := s.checkTriggers(ctx, agent, round)
	if err != nil {
		log.Printf("policy trigger check failed agent=%s round=%d err=%v", agent.ID, round, err)
		return nil
	}
	if !fired {
		return nil
	}

	event := &Event{AgentID: agent.ID, Trigger: trigger}
	version, investorUpdate, err := s.revise(ctx, agent, trigger, round)
	if err != nil {
		log.Printf("policy revision failed agent=%s trigger=%s round=%d err=%v", agent.ID, trigger, round, err)
		event.Err = err
		return event
	}
	event.Version = version.Version
	event.InvestorUpdate = investorUpdate
	return event
}

// checkTriggers evaluates the exception path first, then the review
// interval.
func (s *Service) checkTriggers(ctx context.Context, agent domain.Agent, round int64) (domain.PolicyTrigger, bool, error) {
	bids, err := s.store.ListRecentBidsByAgent(ctx, agent.ID, s.cfg.ConsecutiveLossThreshold)
	if err != nil {
		return "", false, fmt.Errorf("list recent bids: %w", err)
	}

	losses := 0
	for _, bid := range bids {
		if bid.Status != domain.BidLost {
			break
		}
		losses++
	}
	if losses >= s.cfg.ConsecutiveLossThreshold && !s.inCooldown(ctx, agent.ID, domain.TriggerException, round) {
		return domain.TriggerException, true, nil
	}

	lastReview := int64(0)
	if last, err := s.store.LastPolicyByTrigger(ctx, agent.ID, domain.TriggerQBR); err == nil {
		lastReview = last.Round
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", false, fmt.Errorf("read last review: %w", err)
	}
	if round-lastReview >= s.cfg.QBRIntervalRounds {
		return domain.TriggerQBR, true, nil
	}
	return "", false, nil
}

// inCooldown suppresses repeated exception revisions until the loss
// window has had a chance to refill.
func (s *Service) inCooldown(ctx context.Context, agentID string, trigger domain.PolicyTrigger, round int64) bool {
	last, err := s.store.LastPolicyByTrigger(ctx, agentID, trigger)
	if err != nil {
		return false
	}
	return round-last.Round < int64(s.cfg.ConsecutiveLossThreshold)
}

func (s *Service) revise(ctx context.Context, agent domain.Agent, trigger domain.PolicyTrigger, round int64) (domain.PolicyVersion, string, error) {
	payload, err := s.buildContext(ctx, agent, trigger, round)
	if err != nil {
		return domain.PolicyVersion{}, "", err
	}

	decideCtx, cancel := context.WithTimeout(ctx, timeouts.Decision)
	defer cancel()
	decided, err := s.producer.Decide(decideCtx, payload)
	if err != nil {
		return domain.PolicyVersion{}, "", fmt.Errorf("decision producer: %w", err)
	}

	versionID, err := id.NewID()
	if err != nil {
		return domain.PolicyVersion{}, "", fmt.Errorf("generate policy id: %w", err)
	}
	version, err := s.store.AppendPolicyVersion(ctx, domain.PolicyVersion{
		ID:        versionID,
		AgentID:   agent.ID,
		Round:     round,
		Trigger:   trigger,
		Content:   decided.Policy,
		Rationale: decided.Rationale,
		Cost:      decided.Cost,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.PolicyVersion{}, "", fmt.Errorf("append policy version: %w", err)
	}

	investorUpdate := ""
	if trigger == domain.TriggerQBR {
		investorUpdate = decided.InvestorUpdate
	}
	return version, investorUpdate, nil
}

// buildContext assembles the producer payload. The history fetches are
// independent reads and run in parallel under the held arena lock.
func (s *Service) buildContext(ctx context.Context, agent domain.Agent, trigger domain.PolicyTrigger, round int64) (decision.Context, error) {
	var (
		recentBids []domain.Bid
		current    domain.PolicyVersion
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		bids, err := s.store.ListRecentBidsByAgent(groupCtx, agent.ID, s.cfg.HistoryLimit)
		if err != nil {
			return fmt.Errorf("list bid history: %w", err)
		}
		recentBids = bids
		return nil
	})
	group.Go(func() error {
		version, err := s.store.CurrentPolicy(groupCtx, agent.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("read current policy: %w", err)
		}
		current = version
		return nil
	})
	if err := group.Wait(); err != nil {
		return decision.Context{}, err
	}

	content := current.Content
	if content.SchemaVersion == 0 {
		content = domain.DefaultPolicyContent()
	}

	outcomes := make([]decision.BidOutcome, 0, len(recentBids))
	for _, bid := range recentBids {
		outcomes = append(outcomes, decision.BidOutcome{
			Amount: bid.Amount.String(),
			Won:    bid.Status == domain.BidWon,
		})
	}

	return decision.Context{
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		Trigger:        trigger,
		Round:          round,
		Balance:        agent.Balance.String(),
		Reputation:     agent.Reputation,
		TasksCompleted: agent.TasksCompleted,
		TasksFailed:    agent.TasksFailed,
		TotalRevenue:   agent.TotalRevenue.String(),
		TotalCosts:     agent.TotalCosts.String(),
		RecentBids:     outcomes,
		CurrentPolicy:  content,
	}, nil
}
