package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testAgent(id string, balance string) domain.Agent {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Agent{
		ID:            id,
		Name:          "agent " + id,
		WalletAddress: "0x" + id,
		Balance:       decimal.RequireFromString(balance),
		Reputation:    3.5,
		Status:        domain.AgentActive,
		TotalRevenue:  decimal.Zero,
		TotalCosts:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutGetAgentRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	agent := testAgent("a1", "100.5")
	agent.InvestorShareBps = 7500
	if err := store.PutAgent(ctx, agent); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	got, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !got.Balance.Equal(agent.Balance) {
		t.Fatalf("balance = %s, want %s", got.Balance, agent.Balance)
	}
	if got.InvestorShareBps != 7500 {
		t.Fatalf("investor share bps = %d, want 7500", got.InvestorShareBps)
	}
	if got.Status != domain.AgentActive {
		t.Fatalf("status = %s, want %s", got.Status, domain.AgentActive)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetAgent(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEligibleAgentsExcludesDead(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	active := testAgent("a1", "100")
	low := testAgent("a2", "2")
	low.Status = domain.AgentLowFunds
	dead := testAgent("a3", "0")
	dead.Status = domain.AgentDead
	for _, agent := range []domain.Agent{active, low, dead} {
		if err := store.PutAgent(ctx, agent); err != nil {
			t.Fatalf("put agent %s: %v", agent.ID, err)
		}
	}

	eligible, err := store.ListEligibleAgents(ctx)
	if err != nil {
		t.Fatalf("list eligible agents: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible agents, got %d", len(eligible))
	}
	for _, agent := range eligible {
		if agent.Status == domain.AgentDead {
			t.Fatal("dead agent must not be listed as eligible")
		}
	}
}

func TestAcquireLockMutualExclusion(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.AcquireLock(ctx, "holder-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	if !first {
		t.Fatal("first acquisition should succeed")
	}

	second, err := store.AcquireLock(ctx, "holder-2", time.Minute)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}
	if second {
		t.Fatal("second acquisition must fail while held")
	}

	if err := store.ReleaseLock(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	third, err := store.AcquireLock(ctx, "holder-2", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !third {
		t.Fatal("acquisition after release should succeed")
	}
}

func TestAcquireLockConcurrent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	const attempts = 8
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		holder := string(rune('a' + i))
		go func() {
			ok, err := store.AcquireLock(ctx, "holder-"+holder, time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
			}
			results <- ok
		}()
	}

	won := 0
	for i := 0; i < attempts; i++ {
		if <-results {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestAcquireLockRecoversExpired(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "crashed-holder", time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(10 * time.Millisecond)

	// No explicit release: the TTL alone must make the lock acquirable.
	recovered, err := store.AcquireLock(ctx, "new-holder", time.Minute)
	if err != nil {
		t.Fatalf("acquire expired: %v", err)
	}
	if !recovered {
		t.Fatal("expired lock should be acquirable by a new holder")
	}

	lock, err := store.GetLock(ctx)
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock.Holder != "new-holder" {
		t.Fatalf("holder = %s, want new-holder", lock.Holder)
	}
}

func TestCurrentRoundRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	round, err := store.CurrentRound(ctx)
	if err != nil {
		t.Fatalf("current round: %v", err)
	}
	if round != 0 {
		t.Fatalf("initial round = %d, want 0", round)
	}

	if err := store.SetCurrentRound(ctx, 42); err != nil {
		t.Fatalf("set round: %v", err)
	}
	round, err = store.CurrentRound(ctx)
	if err != nil {
		t.Fatalf("current round: %v", err)
	}
	if round != 42 {
		t.Fatalf("round = %d, want 42", round)
	}
}

func TestAutoRunConfigRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	want := storage.AutoRunConfig{Enabled: true, Interval: 45 * time.Second, Speed: 2.0}
	if err := store.SetAutoRun(ctx, want); err != nil {
		t.Fatalf("set autorun: %v", err)
	}
	got, err := store.AutoRun(ctx)
	if err != nil {
		t.Fatalf("get autorun: %v", err)
	}
	if got != want {
		t.Fatalf("autorun = %+v, want %+v", got, want)
	}
}

func TestCreateSeasonRejectsSecondActive(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := domain.Season{
		ID: "s1", Number: 1, StartRound: 1, Status: domain.SeasonActive,
		RoundsTotal: 50, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateSeason(ctx, first); err != nil {
		t.Fatalf("create first season: %v", err)
	}

	second := domain.Season{
		ID: "s2", Number: 2, StartRound: 51, Status: domain.SeasonActive,
		RoundsTotal: 50, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateSeason(ctx, second); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for second active season, got %v", err)
	}
}

func TestCompleteSeasonIdempotent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	season := domain.Season{
		ID: "s1", Number: 1, StartRound: 1, Status: domain.SeasonActive,
		RoundsTotal: 50, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateSeason(ctx, season); err != nil {
		t.Fatalf("create season: %v", err)
	}

	if err := store.CompleteSeason(ctx, "s1", 50, "champ"); err != nil {
		t.Fatalf("complete season: %v", err)
	}
	// Second completion is a no-op, not an error, and must not change the
	// stored champion.
	if err := store.CompleteSeason(ctx, "s1", 99, "usurper"); err != nil {
		t.Fatalf("repeat completion: %v", err)
	}

	got, err := store.GetSeason(ctx, "s1")
	if err != nil {
		t.Fatalf("get season: %v", err)
	}
	if got.Status != domain.SeasonCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.ChampionAgentID != "champ" {
		t.Fatalf("champion = %s, want champ", got.ChampionAgentID)
	}
	if got.EndRound != 50 {
		t.Fatalf("end round = %d, want 50", got.EndRound)
	}
}

func TestJobTransitions(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := domain.Job{
		ID: "j1", Type: "translate", Status: domain.JobOpen,
		MaxBid: decimal.RequireFromString("2.0"), Round: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	if err := store.AssignJob(ctx, "j1", "b1", "a1"); err != nil {
		t.Fatalf("assign job: %v", err)
	}
	// Re-assigning an already assigned job must conflict.
	if err := store.AssignJob(ctx, "j1", "b2", "a2"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on double assign, got %v", err)
	}

	if err := store.CompleteJob(ctx, "j1", "a1b2c3d4e5f60718"); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if err := store.FailJob(ctx, "j1", "late"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict failing a completed job, got %v", err)
	}

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.WinningBidID != "b1" || got.WinnerAgentID != "a1" {
		t.Fatalf("winner refs = %s/%s, want b1/a1", got.WinningBidID, got.WinnerAgentID)
	}
	if got.ResultPayload != "a1b2c3d4e5f60718" {
		t.Fatalf("result payload = %q, want the completion payload", got.ResultPayload)
	}

	if err := store.AssignJob(ctx, "missing", "b1", "a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBidAssignsSequence(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.CreateBid(ctx, domain.Bid{
		ID: "b1", JobID: "j1", AgentID: "a1",
		Amount: decimal.RequireFromString("1.2"), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create first bid: %v", err)
	}
	second, err := store.CreateBid(ctx, domain.Bid{
		ID: "b2", JobID: "j1", AgentID: "a2",
		Amount: decimal.RequireFromString("1.2"), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("create second bid: %v", err)
	}
	if second.Sequence <= first.Sequence {
		t.Fatalf("sequence must increase: %d then %d", first.Sequence, second.Sequence)
	}

	bids, err := store.ListBidsByJob(ctx, "j1")
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(bids))
	}
	if bids[0].ID != "b1" {
		t.Fatalf("bids must come back in submission order, got %s first", bids[0].ID)
	}
}

func TestSetBidStatusImmutableAfterTerminal(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	bid, err := store.CreateBid(ctx, domain.Bid{
		ID: "b1", JobID: "j1", AgentID: "a1",
		Amount: decimal.RequireFromString("1.0"), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}
	if err := store.SetBidStatus(ctx, bid.ID, domain.BidWon); err != nil {
		t.Fatalf("set won: %v", err)
	}
	if err := store.SetBidStatus(ctx, bid.ID, domain.BidLost); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict re-finalizing bid, got %v", err)
	}
}

func TestSnapshotsAppendAndFilter(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snaps := []domain.Snapshot{
		{Round: 1, SeasonID: "s1", AgentID: "a1", Balance: decimal.RequireFromString("10"), Status: domain.AgentActive, CreatedAt: now},
		{Round: 1, SeasonID: "s1", AgentID: "a2", Balance: decimal.RequireFromString("20"), Status: domain.AgentActive, CreatedAt: now},
		{Round: 2, SeasonID: "s1", AgentID: "a1", Balance: decimal.RequireFromString("12"), Status: domain.AgentActive, CreatedAt: now},
	}
	if err := store.AppendSnapshots(ctx, snaps); err != nil {
		t.Fatalf("append snapshots: %v", err)
	}

	got, err := store.ListSnapshots(ctx, storage.SnapshotFilter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots for a1, got %d", len(got))
	}

	got, err = store.ListSnapshots(ctx, storage.SnapshotFilter{FromRound: 2, ToRound: 2})
	if err != nil {
		t.Fatalf("list snapshots by range: %v", err)
	}
	if len(got) != 1 || got[0].AgentID != "a1" {
		t.Fatalf("unexpected range result: %+v", got)
	}
}

func TestQuotaUsageWindow(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.AppendUsage(ctx, "0xactor", 30, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("append old usage: %v", err)
	}
	if err := store.AppendUsage(ctx, "0xactor", 20, now.Add(-time.Hour)); err != nil {
		t.Fatalf("append recent usage: %v", err)
	}

	total, err := store.SumUsageSince(ctx, "0xactor", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sum usage: %v", err)
	}
	if total != 20 {
		t.Fatalf("windowed usage = %d, want 20 (old record aged out)", total)
	}
}
