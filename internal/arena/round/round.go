// Package round clears one auction round: it generates jobs, collects
// bids from the eligible roster, picks winners deterministically,
// executes the work, and settles each completed job.
package round

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/economy"
	"github.com/openagora/arena/internal/arena/jobgen"
	"github.com/openagora/arena/internal/arena/policy"
	"github.com/openagora/arena/internal/arena/registry"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/platform/id"
)

// ErrNoActiveAgents indicates the roster has no eligible bidders.
var ErrNoActiveAgents = errors.New("no active agents")

// Config tunes round processing.
type Config struct {
	// UseBlockchain routes settlement through the payment gateway.
	UseBlockchain bool
	// OperatingCost mirrors the economy's per-job cost so bidding can
	// respect the minimum margin. Defaults to 0.5.
	OperatingCost decimal.Decimal
}

// Result aggregates one processed round.
type Result struct {
	Round         int64
	JobsProcessed int64
	JobsCompleted int64
	JobsFailed    int64
	BidsPlaced    int64
	TotalRevenue  decimal.Decimal
	// SkippedAgents lists eligible agents that placed no bid this round.
	// Not bidding is a valid outcome, not an error.
	SkippedAgents []string
	Agents        []domain.Agent
	// Stats holds per-agent bid and win counts for this round, keyed by
	// agent id.
	Stats  map[string]AgentStats
	Events []policy.Event
}

// AgentStats counts one agent's auction activity within one round.
type AgentStats struct {
	Bids int64
	Wins int64
}

// Store is the persistence slice round processing needs.
type Store interface {
	storage.JobStore
	storage.BidStore
	storage.AgentStore
	storage.PolicyStore
}

// Processor runs one round at a time. Callers hold the arena lock; the
// processor itself does no locking.
type Processor struct {
	store    Store
	roster   registry.Registry
	economy  *economy.Service
	policies *policy.Service
	jobs     *jobgen.Generator
	cfg      Config
	now      func() time.Time
}

// New creates a round processor.
func New(store Store, roster registry.Registry, econ *economy.Service, policies *policy.Service, jobs *jobgen.Generator, cfg Config) *Processor {
	if cfg.OperatingCost.Sign() <= 0 {
		cfg.OperatingCost = decimal.NewFromFloat(0.5)
	}
	return &Processor{
		store:    store,
		roster:   roster,
		economy:  econ,
		policies: policies,
		jobs:     jobs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProcessRound clears one round. A failure inside one job is contained
// to that job; the remaining jobs still run and the aggregate reflects
// the failure count.
func (p *Processor) ProcessRound(ctx context.Context, round int64, jobsPerRound int) (Result, error) {
	agents, err := p.roster.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active agents: %w", err)
	}
	if len(agents) == 0 {
		return Result{}, ErrNoActiveAgents
	}

	jobs, err := p.jobs.Generate(ctx, round, jobsPerRound)
	if err != nil {
		return Result{}, fmt.Errorf("generate round jobs: %w", err)
	}

	result := Result{Round: round, TotalRevenue: decimal.Zero, Stats: map[string]AgentStats{}}
	bidders := make(map[string]bool, len(agents))
	reputations := make(map[string]float64, len(agents))
	byID := make(map[string]domain.Agent, len(agents))
	for _, agent := range agents {
		reputations[agent.ID] = agent.Reputation
		byID[agent.ID] = agent
	}

	for _, job := range jobs {
		result.JobsProcessed++
		outcome, err := p.processJob(ctx, job, agents, reputations, bidders, result.Stats)
		if err != nil {
			// Contained: log and move to the next job.
			log.Printf("job processing failed round=%d job=%s err=%v", round, job.ID, err)
			result.JobsFailed++
			continue
		}
		result.BidsPlaced += outcome.bidsPlaced
		if outcome.completed {
			result.JobsCompleted++
			result.TotalRevenue = result.TotalRevenue.Add(outcome.revenue)
			byID[outcome.winner.ID] = outcome.winner
		} else if outcome.failed {
			result.JobsFailed++
			if outcome.winner.ID != "" {
				byID[outcome.winner.ID] = outcome.winner
			}
		}
	}

	for _, agent := range agents {
		if !bidders[agent.ID] {
			result.SkippedAgents = append(result.SkippedAgents, agent.ID)
		}
	}

	refreshed, err := p.roster.Refresh(ctx, agents)
	if err != nil {
		return Result{}, fmt.Errorf("refresh agents: %w", err)
	}
	result.Agents = refreshed

	// Opportunistic strategy wake-ups. A failed revision never blocks the
	// round; the event carries the error for operators.
	for _, agent := range refreshed {
		if agent.Status == domain.AgentDead {
			continue
		}
		if event := p.policies.MaybeRevise(ctx, agent, round); event != nil {
			result.Events = append(result.Events, *event)
		}
	}

	return result, nil
}

type jobOutcome struct {
	bidsPlaced int64
	completed  bool
	failed     bool
	revenue    decimal.Decimal
	winner     domain.Agent
}

func (p *Processor) processJob(ctx context.Context, job domain.Job, agents []domain.Agent, reputations map[string]float64, bidders map[string]bool, stats map[string]AgentStats) (jobOutcome, error) {
	var outcome jobOutcome

	bids := make([]domain.Bid, 0, len(agents))
	for _, agent := range agents {
		amount, ok := p.bidFor(ctx, agent, job)
		if !ok {
			continue
		}
		bidID, err := id.NewID()
		if err != nil {
			return outcome, fmt.Errorf("generate bid id: %w", err)
		}
		bid, err := p.store.CreateBid(ctx, domain.Bid{
			ID:        bidID,
			JobID:     job.ID,
			AgentID:   agent.ID,
			Amount:    amount,
			Status:    domain.BidPending,
			CreatedAt: p.now().UTC(),
		})
		if err != nil {
			return outcome, fmt.Errorf("create bid: %w", err)
		}
		bids = append(bids, bid)
		bidders[agent.ID] = true
		agentStats := stats[agent.ID]
		agentStats.Bids++
		stats[agent.ID] = agentStats
	}
	outcome.bidsPlaced = int64(len(bids))

	winner, found := domain.SelectWinner(bids, reputations, job.MaxBid)
	if !found {
		// No qualifying bid: the job stays OPEN and the round moves on.
		return outcome, nil
	}
	winnerStats := stats[winner.AgentID]
	winnerStats.Wins++
	stats[winner.AgentID] = winnerStats

	for _, bid := range bids {
		status := domain.BidLost
		if bid.ID == winner.ID {
			status = domain.BidWon
		}
		if err := p.store.SetBidStatus(ctx, bid.ID, status); err != nil {
			return outcome, fmt.Errorf("finalize bid %s: %w", bid.ID, err)
		}
	}
	if err := p.store.AssignJob(ctx, job.ID, winner.ID, winner.AgentID); err != nil {
		return outcome, fmt.Errorf("assign job: %w", err)
	}

	winningAgent, err := p.store.GetAgent(ctx, winner.AgentID)
	if err != nil {
		return outcome, fmt.Errorf("load winning agent: %w", err)
	}

	// Deterministic execution stand-in. Real inference happens outside
	// this layer; the payload only needs to be reproducible.
	payload := executePayload(job)

	settlement, err := p.economy.ProcessTaskCompletion(ctx, job, winner, winningAgent, economy.Options{
		UseBlockchain: p.cfg.UseBlockchain,
	})
	if err != nil {
		reason := fmt.Sprintf("settlement failed: %v", err)
		if failErr := p.store.FailJob(ctx, job.ID, reason); failErr != nil {
			log.Printf("fail-job write failed job=%s err=%v", job.ID, failErr)
		}
		failed, failErr := p.economy.RecordTaskFailure(ctx, winningAgent)
		if failErr != nil {
			log.Printf("task-failure accounting failed agent=%s err=%v", winningAgent.ID, failErr)
			failed = winningAgent
		}
		outcome.failed = true
		outcome.winner = failed
		return outcome, nil
	}

	if err := p.store.CompleteJob(ctx, job.ID, payload); err != nil {
		return outcome, fmt.Errorf("complete job: %w", err)
	}
	outcome.completed = true
	outcome.revenue = winner.Amount
	outcome.winner = settlement.Agent
	return outcome, nil
}

// bidFor derives an agent's deterministic bid from its current policy.
// Returns false when the agent sits this job out.
func (p *Processor) bidFor(ctx context.Context, agent domain.Agent, job domain.Job) (decimal.Decimal, bool) {
	content := domain.DefaultPolicyContent()
	current, err := p.store.CurrentPolicy(ctx, agent.ID)
	switch {
	case err == nil:
		content = current.Content
	case !errors.Is(err, storage.ErrNotFound):
		log.Printf("policy read failed agent=%s err=%v", agent.ID, err)
	}

	if len(content.PreferredTypes) > 0 && !contains(content.PreferredTypes, job.Type) {
		return decimal.Decimal{}, false
	}

	// Base offer at the policy's ratio of the job ceiling, discounted by a
	// deterministic per-(agent, job) jitter scaled by aggressiveness.
	base := job.MaxBid.Mul(decimal.NewFromFloat(content.MaxBidRatio))
	jitter := int64(bidSeed(agent.ID, job.ID) % 21)
	discountPct := decimal.NewFromFloat(content.Aggressiveness).
		Mul(decimal.NewFromInt(jitter))
	amount := base.
		Mul(decimal.NewFromInt(100).Sub(discountPct)).
		Div(decimal.NewFromInt(100)).
		Round(domain.MoneyScale)

	// Never bid below cost plus the policy's minimum margin.
	floor := p.cfg.OperatingCost.Add(content.MinMargin)
	if amount.LessThan(floor) {
		amount = floor
	}
	if amount.GreaterThan(job.MaxBid) {
		return decimal.Decimal{}, false
	}
	return amount, true
}

func executePayload(job domain.Job) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s", job.Type, job.ID)
	return fmt.Sprintf("%016x", h.Sum64())
}

func bidSeed(agentID, jobID string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s", agentID, jobID)
	return h.Sum64()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
