// Package app wires the arena runtime: storage, services, the JSON API
// server, the auto-run timer loop, and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	arenahttp "github.com/openagora/arena/internal/arena/api/http"
	"github.com/openagora/arena/internal/arena/core"
	"github.com/openagora/arena/internal/arena/decision"
	"github.com/openagora/arena/internal/arena/economy"
	"github.com/openagora/arena/internal/arena/jobgen"
	"github.com/openagora/arena/internal/arena/payment"
	"github.com/openagora/arena/internal/arena/policy"
	"github.com/openagora/arena/internal/arena/quota"
	"github.com/openagora/arena/internal/arena/registry"
	"github.com/openagora/arena/internal/arena/round"
	"github.com/openagora/arena/internal/arena/storage"
	"github.com/openagora/arena/internal/arena/storage/sqlite"
	"github.com/openagora/arena/internal/platform/config"
	"github.com/openagora/arena/internal/platform/otel"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// Env holds env-parsed configuration for the arena server.
type Env struct {
	Port       int    `env:"ARENA_PORT" envDefault:"8080"`
	DBPath     string `env:"ARENA_DB_PATH"`
	AuthSecret string `env:"ARENA_AUTH_SECRET"`

	// SystemActor is the wallet identity used by the auto-run loop. It is
	// exempt from the advance quota.
	SystemActor string `env:"ARENA_SYSTEM_ACTOR" envDefault:"0xarena-system"`

	QuotaLimit      int64 `env:"ARENA_QUOTA_LIMIT" envDefault:"50"`
	RoundsPerSeason int64 `env:"ARENA_ROUNDS_PER_SEASON" envDefault:"50"`
	JobsPerRound    int   `env:"ARENA_JOBS_PER_ROUND" envDefault:"5"`
	LockTTLSeconds  int   `env:"ARENA_LOCK_TTL_SECONDS" envDefault:"120"`

	OperatingCost     string `env:"ARENA_OPERATING_COST" envDefault:"0.5"`
	PlatformFeeRate   string `env:"ARENA_PLATFORM_FEE_RATE" envDefault:"0.05"`
	LowFundsThreshold string `env:"ARENA_LOW_FUNDS_THRESHOLD" envDefault:"1"`

	UseBlockchain     bool   `env:"ARENA_USE_BLOCKCHAIN"`
	PaymentGatewayURL string `env:"ARENA_PAYMENT_GATEWAY_URL"`
	PaymentAPIKey     string `env:"ARENA_PAYMENT_API_KEY"`

	DecisionBaseURL string `env:"ARENA_DECISION_BASE_URL"`
	DecisionAPIKey  string `env:"ARENA_DECISION_API_KEY"`
	DecisionModel   string `env:"ARENA_DECISION_MODEL"`

	ExceptionLossThreshold int   `env:"ARENA_EXCEPTION_LOSS_THRESHOLD" envDefault:"5"`
	QBRIntervalRounds      int64 `env:"ARENA_QBR_INTERVAL_ROUNDS" envDefault:"20"`
}

// LoadEnv parses the arena environment with defaults applied.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := config.ParseEnv(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse arena env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "arena.db")
	}
	if cfg.AuthSecret == "" {
		return Env{}, fmt.Errorf("ARENA_AUTH_SECRET is required")
	}
	return cfg, nil
}

func mustDecimal(raw, fallback string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		v = decimal.RequireFromString(fallback)
	}
	return v
}

// Run starts the arena and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg Env) error {
	shutdownOtel, err := otel.Setup(ctx, "arena")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			log.Printf("tracing shutdown failed err=%v", err)
		}
	}()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open arena store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("store close failed err=%v", err)
		}
	}()

	var gateway payment.Gateway
	if cfg.PaymentGatewayURL != "" {
		gateway, err = payment.NewClient(cfg.PaymentGatewayURL, cfg.PaymentAPIKey)
		if err != nil {
			return fmt.Errorf("configure payment gateway: %w", err)
		}
	} else {
		log.Printf("payment gateway not configured, using in-memory stub")
		gateway = payment.NewStub()
	}

	var producer decision.Producer
	if cfg.DecisionBaseURL != "" {
		producer, err = decision.NewClient(cfg.DecisionBaseURL, cfg.DecisionAPIKey, cfg.DecisionModel)
		if err != nil {
			return fmt.Errorf("configure decision producer: %w", err)
		}
	} else {
		log.Printf("decision producer not configured, using deterministic stub")
		producer = decision.NewStub()
	}

	econ := economy.New(store, gateway, economy.Config{
		OperatingCost:     mustDecimal(cfg.OperatingCost, "0.5"),
		PlatformFeeRate:   mustDecimal(cfg.PlatformFeeRate, "0.05"),
		LowFundsThreshold: mustDecimal(cfg.LowFundsThreshold, "1"),
	})
	policies := policy.New(store, producer, policy.Config{
		ConsecutiveLossThreshold: cfg.ExceptionLossThreshold,
		QBRIntervalRounds:        cfg.QBRIntervalRounds,
	})
	processor := round.New(store, registry.New(store), econ, policies, jobgen.New(store), round.Config{
		UseBlockchain: cfg.UseBlockchain,
		OperatingCost: mustDecimal(cfg.OperatingCost, "0.5"),
	})
	guard := quota.New(store, quota.Config{
		Limit:       cfg.QuotaLimit,
		ExemptActor: cfg.SystemActor,
	})
	arena := core.New(store, processor, guard, core.Config{
		RoundsPerSeason: cfg.RoundsPerSeason,
		LockTTL:         time.Duration(cfg.LockTTLSeconds) * time.Second,
	})

	server, err := arenahttp.New(fmt.Sprintf(":%d", cfg.Port), arena, econ, arenahttp.AuthConfig{
		Secret: cfg.AuthSecret,
	})
	if err != nil {
		return fmt.Errorf("configure arena api: %w", err)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go runAutoRunLoop(loopCtx, arena, store, cfg.SystemActor, cfg.JobsPerRound)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	log.Printf("arena api listening port=%d", cfg.Port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown arena api: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// autoRunState reads the persisted auto-run configuration.
type autoRunState interface {
	AutoRun(ctx context.Context) (storage.AutoRunConfig, error)
}

// advancer is the slice of the arena the loop drives.
type advancer interface {
	Advance(ctx context.Context, req core.AdvanceRequest) (core.AdvanceResult, error)
}

// runAutoRunLoop polls the persisted auto-run configuration and advances
// the arena as the exempt system actor. Busy and quota rejections are
// skips, not failures: another caller already moved the clock.
func runAutoRunLoop(ctx context.Context, arena advancer, store autoRunState, actor string, jobsPerRound int) {
	const pollInterval = time.Second

	var lastRun time.Time
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cfg, err := store.AutoRun(ctx)
			if err != nil {
				log.Printf("autorun config read failed err=%v", err)
				continue
			}
			if !cfg.Enabled || cfg.Interval <= 0 {
				continue
			}
			effective := cfg.Interval
			if cfg.Speed > 0 {
				effective = time.Duration(float64(cfg.Interval) / cfg.Speed)
			}
			if now.Sub(lastRun) < effective {
				continue
			}
			lastRun = now

			_, err = arena.Advance(ctx, core.AdvanceRequest{
				Actor:        actor,
				Rounds:       1,
				JobsPerRound: jobsPerRound,
			})
			switch {
			case err == nil:
			case errors.Is(err, core.ErrBusy):
				// Someone else advanced; skip this tick.
			case errors.Is(err, round.ErrNoActiveAgents):
				log.Printf("autorun skipped: no active agents")
			default:
				log.Printf("autorun advance failed err=%v", err)
			}
		}
	}
}
