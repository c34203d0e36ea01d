// Package core owns global arena state: the advance lock, the round
// counter, season lifecycle, and the aggregate read models. It is the
// only writer of those singletons; everything else flows through it.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/quota"
	"github.com/openagora/arena/internal/arena/round"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/platform/id"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// ErrBusy indicates another advance pipeline holds the arena lock.
// Callers retry later; this is a conflict, not a failure.
var ErrBusy = errors.New("arena is busy")

// ErrInvalidRequest indicates out-of-bounds advance parameters.
var ErrInvalidRequest = errors.New("invalid advance request")

// Config tunes the arena. Zero values fall back to the defaults below.
type Config struct {
	// RoundsPerSeason fixes the season length. Defaults to 50.
	RoundsPerSeason int64
	// MaxRoundsPerRequest bounds one advance call. Defaults to 10.
	MaxRoundsPerRequest int
	// DefaultJobsPerRound applies when the request leaves it unset.
	// Defaults to 5.
	DefaultJobsPerRound int
	// LockTTL bounds how long a crashed holder can wedge the arena.
	// Defaults to 2 minutes.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundsPerSeason <= 0 {
		c.RoundsPerSeason = 50
	}
	if c.MaxRoundsPerRequest <= 0 {
		c.MaxRoundsPerRequest = 10
	}
	if c.DefaultJobsPerRound <= 0 {
		c.DefaultJobsPerRound = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// Service orchestrates the advance pipeline.
type Service struct {
	store     storage.Store
	processor *round.Processor
	guard     *quota.Guard
	cfg       Config
	tracer    trace.Tracer
	holder    string
	now       func() time.Time
}

// New creates the arena service. Each instance carries its own lock
// holder identity so concurrent instances can be told apart.
func New(store storage.Store, processor *round.Processor, guard *quota.Guard, cfg Config) *Service {
	holder, err := id.NewID()
	if err != nil {
		holder = "arena"
	}
	return &Service{
		store:     store,
		processor: processor,
		guard:     guard,
		cfg:       cfg.withDefaults(),
		tracer:    otel.Tracer("arena"),
		holder:    holder,
		now:       time.Now,
	}
}

// AdvanceRequest asks for N rounds on behalf of an actor.
type AdvanceRequest struct {
	Actor        string
	Rounds       int
	JobsPerRound int
}

// AdvanceResult aggregates one advance call.
type AdvanceResult struct {
	RoundsCompleted int64
	StartRound      int64
	EndRound        int64
	Season          domain.Season
	SeasonCompleted bool
	JobsProcessed   int64
	JobsCompleted   int64
	JobsFailed      int64
	BidsPlaced      int64
	TotalRevenue    decimal.Decimal
	PerRound        []round.Result
	Quota           quota.Status
}

// Advance runs the pipeline: quota, lock, N strictly sequential rounds,
// snapshots, season boundary, usage recording. Once the lock is held
// the pipeline no longer observes the caller's cancellation: it runs to
// completion under its own deadline and releases the lock on every exit
// path. A failure in a later round returns the rounds that did complete
// rather than aborting the whole request.
func (s *Service) Advance(ctx context.Context, req AdvanceRequest) (AdvanceResult, error) {
	if req.Actor == "" {
		return AdvanceResult{}, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	if req.Rounds < 1 || req.Rounds > s.cfg.MaxRoundsPerRequest {
		return AdvanceResult{}, fmt.Errorf("%w: rounds must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxRoundsPerRequest)
	}
	jobsPerRound := req.JobsPerRound
	if jobsPerRound <= 0 {
		jobsPerRound = s.cfg.DefaultJobsPerRound
	}

	ctx, span := s.tracer.Start(ctx, "arena.advance",
		trace.WithAttributes(attribute.Int("arena.rounds_requested", req.Rounds)))
	defer span.End()

	status, err := s.guard.CheckQuota(ctx, req.Actor)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("check quota: %w", err)
	}
	if !status.Allowed {
		return AdvanceResult{Quota: status}, fmt.Errorf("%w: used %d of %d",
			quota.ErrQuotaExceeded, status.Used, status.Limit)
	}

	acquired, err := s.store.AcquireLock(ctx, s.holder, s.cfg.LockTTL)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("acquire arena lock: %w", err)
	}
	if !acquired {
		return AdvanceResult{}, ErrBusy
	}
	// Release must run even when the caller's context is already gone;
	// a stuck lock outlives any single failed advance.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Datastore)
		defer cancel()
		if err := s.store.ReleaseLock(releaseCtx); err != nil {
			log.Printf("arena lock release failed holder=%s err=%v", s.holder, err)
		}
	}()

	// A caller disconnect aborts only the caller's wait. The rounds run
	// detached, bounded by the lock TTL, so settlement and the counter
	// write always land together. Trace values survive the detach.
	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LockTTL)
	defer cancelRun()

	result := AdvanceResult{Quota: status, TotalRevenue: decimal.Zero}
	for i := 0; i < req.Rounds; i++ {
		roundResult, season, err := s.runRound(runCtx, jobsPerRound)
		if err != nil {
			if i == 0 {
				return AdvanceResult{Quota: status}, err
			}
			// Later rounds: report what completed instead of discarding it.
			log.Printf("advance stopped early completed=%d err=%v", result.RoundsCompleted, err)
			break
		}

		if result.RoundsCompleted == 0 {
			result.StartRound = roundResult.Round
		}
		result.RoundsCompleted++
		result.EndRound = roundResult.Round
		result.Season = season
		result.JobsProcessed += roundResult.JobsProcessed
		result.JobsCompleted += roundResult.JobsCompleted
		result.JobsFailed += roundResult.JobsFailed
		result.BidsPlaced += roundResult.BidsPlaced
		result.TotalRevenue = result.TotalRevenue.Add(roundResult.TotalRevenue)
		result.PerRound = append(result.PerRound, roundResult)

		if domain.IsSeasonBoundary(roundResult.Round, season) {
			if err := s.FinalizeSeason(runCtx, season.ID, roundResult.Round); err != nil {
				log.Printf("season finalization failed season=%s err=%v", season.ID, err)
			} else {
				result.SeasonCompleted = true
			}
		}
	}

	if result.RoundsCompleted > 0 {
		if err := s.guard.RecordUsage(runCtx, req.Actor, result.RoundsCompleted); err != nil {
			log.Printf("quota usage record failed actor=%s err=%v", req.Actor, err)
		}
	}
	span.SetAttributes(attribute.Int64("arena.rounds_completed", result.RoundsCompleted))
	return result, nil
}

// runRound advances the counter by one and settles that round.
func (s *Service) runRound(ctx context.Context, jobsPerRound int) (round.Result, domain.Season, error) {
	current, err := s.store.CurrentRound(ctx)
	if err != nil {
		return round.Result{}, domain.Season{}, fmt.Errorf("read current round: %w", err)
	}
	next := current + 1

	season, err := s.EnsureActiveSeason(ctx, current)
	if err != nil {
		return round.Result{}, domain.Season{}, err
	}

	ctx, span := s.tracer.Start(ctx, "arena.round",
		trace.WithAttributes(attribute.Int64("arena.round", next)))
	defer span.End()

	result, err := s.processor.ProcessRound(ctx, next, jobsPerRound)
	if err != nil {
		return round.Result{}, domain.Season{}, err
	}

	if err := s.store.SetCurrentRound(ctx, next); err != nil {
		return round.Result{}, domain.Season{}, fmt.Errorf("advance round counter: %w", err)
	}
	if err := s.SaveRoundSnapshot(ctx, next, season.ID, result); err != nil {
		return round.Result{}, domain.Season{}, err
	}
	if err := s.store.AppendRound(ctx, storage.RoundRecord{
		Round:         next,
		SeasonID:      season.ID,
		JobsProcessed: result.JobsProcessed,
		JobsCompleted: result.JobsCompleted,
		JobsFailed:    result.JobsFailed,
		BidsPlaced:    result.BidsPlaced,
		TotalRevenue:  result.TotalRevenue,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		return round.Result{}, domain.Season{}, fmt.Errorf("append round record: %w", err)
	}
	if err := s.store.SetSeasonProgress(ctx, season.ID, next-season.StartRound+1); err != nil {
		return round.Result{}, domain.Season{}, fmt.Errorf("update season progress: %w", err)
	}

	log.Printf("round settled round=%d season=%d jobs=%d completed=%d failed=%d revenue=%s",
		next, season.Number, result.JobsProcessed, result.JobsCompleted, result.JobsFailed, result.TotalRevenue)
	return result, season, nil
}

// EnsureActiveSeason returns the ACTIVE season, creating the next one
// starting at priorRound+1 when none is active.
func (s *Service) EnsureActiveSeason(ctx context.Context, priorRound int64) (domain.Season, error) {
	season, err := s.store.GetActiveSeason(ctx)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Season{}, fmt.Errorf("read active season: %w", err)
	}

	seasons, err := s.store.ListSeasons(ctx)
	if err != nil {
		return domain.Season{}, fmt.Errorf("list seasons: %w", err)
	}
	var lastNumber int64
	for _, prev := range seasons {
		if prev.Number > lastNumber {
			lastNumber = prev.Number
		}
	}

	seasonID, err := id.NewID()
	if err != nil {
		return domain.Season{}, fmt.Errorf("generate season id: %w", err)
	}
	now := s.now().UTC()
	season = domain.Season{
		ID:          seasonID,
		Number:      lastNumber + 1,
		StartRound:  priorRound + 1,
		Status:      domain.SeasonActive,
		RoundsTotal: s.cfg.RoundsPerSeason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSeason(ctx, season); err != nil {
		// Lost a race with another creator: read theirs.
		if errors.Is(err, storage.ErrConflict) {
			return s.store.GetActiveSeason(ctx)
		}
		return domain.Season{}, fmt.Errorf("create season: %w", err)
	}
	log.Printf("season started season=%d start_round=%d rounds=%d", season.Number, season.StartRound, season.RoundsTotal)
	return season, nil
}

// SaveRoundSnapshot appends one row per agent capturing its state at the
// end of the round. The series is append-only.
func (s *Service) SaveRoundSnapshot(ctx context.Context, roundNumber int64, seasonID string, result round.Result) error {
	snapshots := make([]domain.Snapshot, 0, len(result.Agents))
	now := s.now().UTC()
	for _, agent := range result.Agents {
		stats := result.Stats[agent.ID]
		snapshots = append(snapshots, domain.Snapshot{
			Round:      roundNumber,
			SeasonID:   seasonID,
			AgentID:    agent.ID,
			Balance:    agent.Balance,
			Reputation: agent.Reputation,
			Status:     agent.Status,
			Wins:       stats.Wins,
			Bids:       stats.Bids,
			CreatedAt:  now,
		})
	}
	if err := s.store.AppendSnapshots(ctx, snapshots); err != nil {
		return fmt.Errorf("save round snapshots: %w", err)
	}
	return nil
}

// ComputeLeaderboard recomputes and persists a season's standings from
// its snapshot history. Balance delta within the season ranks first,
// win rate breaks ties.
func (s *Service) ComputeLeaderboard(ctx context.Context, seasonID string) ([]domain.LeaderboardEntry, error) {
	snapshots, err := s.store.ListSnapshots(ctx, storage.SnapshotFilter{SeasonID: seasonID})
	if err != nil {
		return nil, fmt.Errorf("list season snapshots: %w", err)
	}

	type tally struct {
		first, last domain.Snapshot
		wins, bids  int64
		seen        bool
	}
	tallies := map[string]*tally{}
	order := []string{}
	for _, snap := range snapshots {
		entry, ok := tallies[snap.AgentID]
		if !ok {
			entry = &tally{}
			tallies[snap.AgentID] = entry
			order = append(order, snap.AgentID)
		}
		if !entry.seen || snap.Round < entry.first.Round {
			entry.first = snap
		}
		if !entry.seen || snap.Round > entry.last.Round {
			entry.last = snap
		}
		entry.seen = true
		entry.wins += snap.Wins
		entry.bids += snap.Bids
	}

	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	for _, agentID := range order {
		t := tallies[agentID]
		winRate := 0.0
		if t.bids > 0 {
			winRate = float64(t.wins) / float64(t.bids)
		}
		entries = append(entries, domain.LeaderboardEntry{
			SeasonID:     seasonID,
			AgentID:      agentID,
			BalanceDelta: t.last.Balance.Sub(t.first.Balance),
			WinRate:      winRate,
			Wins:         t.wins,
			Bids:         t.bids,
		})
	}

	ranked := domain.RankLeaderboard(entries)
	if err := s.store.ReplaceLeaderboard(ctx, seasonID, ranked); err != nil {
		return nil, fmt.Errorf("persist leaderboard: %w", err)
	}
	return ranked, nil
}

// FinalizeSeason completes the season with its champion. Idempotent: a
// season already COMPLETED is left untouched.
func (s *Service) FinalizeSeason(ctx context.Context, seasonID string, endRound int64) error {
	ranked, err := s.ComputeLeaderboard(ctx, seasonID)
	if err != nil {
		return err
	}
	champion := ""
	if len(ranked) > 0 {
		champion = ranked[0].AgentID
	}
	if err := s.store.CompleteSeason(ctx, seasonID, endRound, champion); err != nil {
		return fmt.Errorf("complete season: %w", err)
	}
	log.Printf("season finalized season_id=%s end_round=%d champion=%s", seasonID, endRound, champion)
	return nil
}

// UpdateAutoRun persists the auto-advance configuration. The timer
// itself lives in the control layer, never here.
func (s *Service) UpdateAutoRun(ctx context.Context, cfg storage.AutoRunConfig) (storage.AutoRunConfig, error) {
	if cfg.Enabled && cfg.Interval < 250*time.Millisecond {
		return storage.AutoRunConfig{}, fmt.Errorf("%w: interval must be at least 250ms", ErrInvalidRequest)
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if err := s.store.SetAutoRun(ctx, cfg); err != nil {
		return storage.AutoRunConfig{}, fmt.Errorf("persist autorun config: %w", err)
	}
	return cfg, nil
}

// State is the point-in-time arena read model.
type State struct {
	CurrentRound int64
	Season       *domain.Season
	AutoRun      storage.AutoRunConfig
	Lock         domain.Lock
	Agents       []domain.Agent
}

// CurrentState assembles the read model served to dashboards.
func (s *Service) CurrentState(ctx context.Context) (State, error) {
	currentRound, err := s.store.CurrentRound(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read current round: %w", err)
	}

	state := State{CurrentRound: currentRound}
	if season, err := s.store.GetActiveSeason(ctx); err == nil {
		state.Season = &season
	} else if !errors.Is(err, storage.ErrNotFound) {
		return State{}, fmt.Errorf("read active season: %w", err)
	}

	if state.AutoRun, err = s.store.AutoRun(ctx); err != nil {
		return State{}, fmt.Errorf("read autorun config: %w", err)
	}
	if state.Lock, err = s.store.GetLock(ctx); err != nil {
		return State{}, fmt.Errorf("read lock: %w", err)
	}
	if state.Agents, err = s.store.ListAgents(ctx); err != nil {
		return State{}, fmt.Errorf("list agents: %w", err)
	}
	return state, nil
}

// ListSeasons returns all seasons, newest first per store ordering.
func (s *Service) ListSeasons(ctx context.Context) ([]domain.Season, error) {
	return s.store.ListSeasons(ctx)
}

// Leaderboard returns a season's persisted standings.
func (s *Service) Leaderboard(ctx context.Context, seasonID string) ([]domain.LeaderboardEntry, error) {
	return s.store.ListLeaderboard(ctx, seasonID)
}

// Snapshots returns historical snapshots narrowed by the filter.
func (s *Service) Snapshots(ctx context.Context, filter storage.SnapshotFilter) ([]domain.Snapshot, error) {
	return s.store.ListSnapshots(ctx, filter)
}
