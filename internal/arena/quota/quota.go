// Package quota bounds how many rounds a single actor may trigger per
// rolling window, so one caller cannot monopolize the shared simulation
// clock.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openagora/arena/internal/arena/storage"
)

// ErrQuotaExceeded indicates the actor is over its rolling-window limit.
var ErrQuotaExceeded = errors.New("advance quota exceeded")

// Config tunes the guard. Zero values fall back to the defaults below.
type Config struct {
	// Limit is the maximum rounds per window. Defaults to 50.
	Limit int64
	// Window is the rolling usage window. Defaults to 24h.
	Window time.Duration
	// ExemptActor bypasses the quota entirely. Used for the system's own
	// identity so background auto-advance is never throttled.
	ExemptActor string
}

// Status reports an actor's standing against the quota.
type Status struct {
	Allowed   bool
	Used      int64
	Remaining int64
	Limit     int64
}

// Guard enforces the rolling-window round quota against an append-only
// usage log.
type Guard struct {
	store storage.QuotaStore
	cfg   Config
	now   func() time.Time
}

// New creates a guard over the usage store.
func New(store storage.QuotaStore, cfg Config) *Guard {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &Guard{store: store, cfg: cfg, now: time.Now}
}

// CheckQuota reports whether the actor may trigger more rounds. The
// exempt actor is always allowed and reports the full limit remaining.
func (g *Guard) CheckQuota(ctx context.Context, actor string) (Status, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return Status{}, fmt.Errorf("actor is required")
	}
	if g.exempt(actor) {
		return Status{Allowed: true, Remaining: g.cfg.Limit, Limit: g.cfg.Limit}, nil
	}

	used, err := g.store.SumUsageSince(ctx, actor, g.now().Add(-g.cfg.Window))
	if err != nil {
		return Status{}, fmt.Errorf("sum quota usage: %w", err)
	}

	remaining := g.cfg.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Allowed:   used < g.cfg.Limit,
		Used:      used,
		Remaining: remaining,
		Limit:     g.cfg.Limit,
	}, nil
}

// RecordUsage appends completed rounds to the actor's usage log. Callers
// record only after rounds actually finish, so a failed advance never
// consumes quota. Exempt-actor usage is not recorded.
func (g *Guard) RecordUsage(ctx context.Context, actor string, rounds int64) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	if rounds <= 0 {
		return fmt.Errorf("rounds must be positive")
	}
	if g.exempt(actor) {
		return nil
	}
	if err := g.store.AppendUsage(ctx, actor, rounds, g.now()); err != nil {
		return fmt.Errorf("record quota usage: %w", err)
	}
	return nil
}

func (g *Guard) exempt(actor string) bool {
	return g.cfg.ExemptActor != "" && strings.EqualFold(actor, g.cfg.ExemptActor)
}
