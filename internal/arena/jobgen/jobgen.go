// Package jobgen produces the job batches auctioned each round. Job
// content templates live outside the engine; this generator only decides
// type, max bid, and round placement, deterministically per round.
package jobgen

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/platform/id"
)

// jobTypes is the fixed catalog of auctionable work.
var jobTypes = []string{
	"translate",
	"summarize",
	"classify",
	"extract",
	"transcribe",
	"moderate",
}

// Generator creates and persists typed job batches.
type Generator struct {
	jobs storage.JobStore
	now  func() time.Time

	// BaseMaxBid anchors the deterministic max-bid spread. Defaults to 2.0.
	BaseMaxBid decimal.Decimal
}

// New creates a generator writing through the job store.
func New(jobs storage.JobStore) *Generator {
	return &Generator{
		jobs:       jobs,
		now:        time.Now,
		BaseMaxBid: decimal.NewFromInt(2),
	}
}

// Generate creates count jobs for the round and persists them OPEN. Type
// and max bid derive from a hash of the round and slot so re-running a
// round's generation yields the same economic shape.
func (g *Generator) Generate(ctx context.Context, round int64, count int) ([]domain.Job, error) {
	if round <= 0 {
		return nil, fmt.Errorf("round must be positive")
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive")
	}

	now := g.now().UTC()
	jobs := make([]domain.Job, 0, count)
	for i := 0; i < count; i++ {
		jobID, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate job id: %w", err)
		}

		seed := slotSeed(round, i)
		job := domain.Job{
			ID:        jobID,
			Type:      jobTypes[seed%uint64(len(jobTypes))],
			Status:    domain.JobOpen,
			MaxBid:    g.maxBidFor(seed),
			Round:     round,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := g.jobs.PutJob(ctx, job); err != nil {
			return nil, fmt.Errorf("persist generated job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// maxBidFor spreads max bids between 50% and 150% of the base in 1%
// steps.
func (g *Generator) maxBidFor(seed uint64) decimal.Decimal {
	pct := int64(50 + seed%101)
	return g.BaseMaxBid.
		Mul(decimal.NewFromInt(pct)).
		Div(decimal.NewFromInt(100)).
		Round(domain.MoneyScale)
}

func slotSeed(round int64, slot int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", round, slot)
	return h.Sum64()
}
