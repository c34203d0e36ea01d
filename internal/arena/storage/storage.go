// Package storage defines the persistence interfaces consumed by the arena
// services. The sqlite subpackage provides the production implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a requested state transition is invalid.
var ErrConflict = errors.New("record conflict")

// AgentStore persists agent records.
type AgentStore interface {
	PutAgent(ctx context.Context, agent domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (domain.Agent, error)
	// ListEligibleAgents returns agents with status ACTIVE or LOW_FUNDS.
	ListEligibleAgents(ctx context.Context) ([]domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
}

// JobStore persists jobs and owns their status transitions.
type JobStore interface {
	PutJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListJobsByRound(ctx context.Context, round int64) ([]domain.Job, error)
	// AssignJob moves an OPEN job to ASSIGNED with its winning bid.
	AssignJob(ctx context.Context, jobID, bidID, agentID string) error
	// CompleteJob moves an ASSIGNED job to COMPLETED and stores the
	// execution result payload.
	CompleteJob(ctx context.Context, jobID, resultPayload string) error
	// FailJob moves an ASSIGNED job to FAILED and retains the reason.
	FailJob(ctx context.Context, jobID, reason string) error
}

// BidStore persists bids. Sequence numbers are assigned at insert and give
// the deterministic submission order used for tie-breaking.
type BidStore interface {
	CreateBid(ctx context.Context, bid domain.Bid) (domain.Bid, error)
	ListBidsByJob(ctx context.Context, jobID string) ([]domain.Bid, error)
	SetBidStatus(ctx context.Context, bidID string, status domain.BidStatus) error
	// ListRecentBidsByAgent returns the agent's newest bids, newest first.
	ListRecentBidsByAgent(ctx context.Context, agentID string, limit int) ([]domain.Bid, error)
}

// AutoRunConfig is the persisted auto-advance configuration. It is
// configuration state only; the timer lives in the control layer.
type AutoRunConfig struct {
	Enabled  bool
	Interval time.Duration
	Speed    float64
}

// StateStore persists the global round counter and auto-run configuration.
type StateStore interface {
	CurrentRound(ctx context.Context) (int64, error)
	SetCurrentRound(ctx context.Context, round int64) error
	AutoRun(ctx context.Context) (AutoRunConfig, error)
	SetAutoRun(ctx context.Context, cfg AutoRunConfig) error
}

// LockStore persists the global advance-lock token.
type LockStore interface {
	// AcquireLock atomically takes the lock if it is unset or expired.
	// Returns false when another holder is active; callers treat that as
	// busy, not as an error.
	AcquireLock(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// ReleaseLock unconditionally clears the lock.
	ReleaseLock(ctx context.Context) error
	GetLock(ctx context.Context) (domain.Lock, error)
}

// SeasonStore persists seasons and their progress.
type SeasonStore interface {
	CreateSeason(ctx context.Context, season domain.Season) error
	GetSeason(ctx context.Context, seasonID string) (domain.Season, error)
	GetActiveSeason(ctx context.Context) (domain.Season, error)
	ListSeasons(ctx context.Context) ([]domain.Season, error)
	SetSeasonProgress(ctx context.Context, seasonID string, roundsCompleted int64) error
	// CompleteSeason marks the season COMPLETED with its champion. Applied
	// only while the season is still ACTIVE; completing an already
	// COMPLETED season affects no rows.
	CompleteSeason(ctx context.Context, seasonID string, endRound int64, championAgentID string) error
}

// RoundRecord aggregates one processed round for historical queries.
type RoundRecord struct {
	Round         int64
	SeasonID      string
	JobsProcessed int64
	JobsCompleted int64
	JobsFailed    int64
	BidsPlaced    int64
	TotalRevenue  decimal.Decimal
	CreatedAt     time.Time
}

// RoundStore appends processed round aggregates.
type RoundStore interface {
	AppendRound(ctx context.Context, record RoundRecord) error
	ListRounds(ctx context.Context, seasonID string) ([]RoundRecord, error)
}

// SnapshotFilter narrows historical snapshot queries.
type SnapshotFilter struct {
	SeasonID  string
	AgentID   string
	FromRound int64
	ToRound   int64
}

// SnapshotStore appends and reads the per-round agent state time series.
type SnapshotStore interface {
	AppendSnapshots(ctx context.Context, snapshots []domain.Snapshot) error
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]domain.Snapshot, error)
}

// LeaderboardStore persists computed season standings.
type LeaderboardStore interface {
	ReplaceLeaderboard(ctx context.Context, seasonID string, entries []domain.LeaderboardEntry) error
	ListLeaderboard(ctx context.Context, seasonID string) ([]domain.LeaderboardEntry, error)
}

// EscrowStore persists investor holdings, escrow balances, and claims.
type EscrowStore interface {
	PutHolding(ctx context.Context, agentID string, holding domain.Holding) error
	ListHoldings(ctx context.Context, agentID string) ([]domain.Holding, error)
	// CreditEscrow adds amount to total_earned for the pair, creating the
	// row when absent.
	CreditEscrow(ctx context.Context, agentID, investorAddress string, amount decimal.Decimal) error
	GetEscrow(ctx context.Context, agentID, investorAddress string) (domain.InvestorEscrow, error)
	ListEscrowByAgent(ctx context.Context, agentID string) ([]domain.InvestorEscrow, error)
	// AddClaimed increases total_claimed, rejecting with ErrConflict when
	// the claim would exceed total_earned.
	AddClaimed(ctx context.Context, agentID, investorAddress string, amount decimal.Decimal) error
	AppendClaim(ctx context.Context, claim domain.EscrowClaim) error
	ListClaims(ctx context.Context, agentID, investorAddress string) ([]domain.EscrowClaim, error)
}

// PolicyStore persists the append-only policy version log.
type PolicyStore interface {
	// AppendPolicyVersion inserts the next version for the agent (max+1)
	// and returns the stored record.
	AppendPolicyVersion(ctx context.Context, version domain.PolicyVersion) (domain.PolicyVersion, error)
	// CurrentPolicy returns the highest version for the agent.
	CurrentPolicy(ctx context.Context, agentID string) (domain.PolicyVersion, error)
	ListPolicyVersions(ctx context.Context, agentID string) ([]domain.PolicyVersion, error)
	// LastPolicyByTrigger returns the newest version with the trigger, or
	// ErrNotFound.
	LastPolicyByTrigger(ctx context.Context, agentID string, trigger domain.PolicyTrigger) (domain.PolicyVersion, error)
}

// QuotaStore persists the append-only advance-usage log.
type QuotaStore interface {
	AppendUsage(ctx context.Context, actor string, rounds int64, at time.Time) error
	SumUsageSince(ctx context.Context, actor string, since time.Time) (int64, error)
}

// Store is the full persistence surface used by the arena runtime.
type Store interface {
	AgentStore
	JobStore
	BidStore
	StateStore
	LockStore
	SeasonStore
	RoundStore
	SnapshotStore
	LeaderboardStore
	EscrowStore
	PolicyStore
	QuotaStore
}
