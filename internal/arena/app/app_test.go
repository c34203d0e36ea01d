package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openagora/arena/internal/arena/core"
	"github.com/openagora/arena/internal/arena/storage"
)

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("ARENA_AUTH_SECRET", "secret")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.QuotaLimit != 50 || cfg.RoundsPerSeason != 50 {
		t.Fatalf("quota=%d rounds=%d, want 50/50", cfg.QuotaLimit, cfg.RoundsPerSeason)
	}
	if cfg.DBPath == "" {
		t.Fatal("db path must default")
	}
	if cfg.SystemActor == "" {
		t.Fatal("system actor must default")
	}
}

func TestLoadEnvRequiresSecret(t *testing.T) {
	t.Setenv("ARENA_AUTH_SECRET", "")
	if _, err := LoadEnv(); err == nil {
		t.Fatal("expected error when auth secret is missing")
	}
}

type stubAutoRunStore struct {
	cfg storage.AutoRunConfig
}

func (s *stubAutoRunStore) AutoRun(context.Context) (storage.AutoRunConfig, error) {
	return s.cfg, nil
}

type countingAdvancer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAdvancer) Advance(_ context.Context, req core.AdvanceRequest) (core.AdvanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if req.Actor == "" {
		panic("autorun must advance as the system actor")
	}
	return core.AdvanceResult{RoundsCompleted: 1}, nil
}

func (c *countingAdvancer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestAutoRunLoopDisabledDoesNotAdvance(t *testing.T) {
	store := &stubAutoRunStore{cfg: storage.AutoRunConfig{Enabled: false}}
	arena := &countingAdvancer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	runAutoRunLoop(ctx, arena, store, "0xsystem", 1)

	if arena.count() != 0 {
		t.Fatalf("disabled loop advanced %d times, want 0", arena.count())
	}
}

func TestAutoRunLoopAdvancesOnInterval(t *testing.T) {
	store := &stubAutoRunStore{cfg: storage.AutoRunConfig{Enabled: true, Interval: time.Second, Speed: 1}}
	arena := &countingAdvancer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	runAutoRunLoop(ctx, arena, store, "0xsystem", 1)

	if arena.count() == 0 {
		t.Fatal("enabled loop never advanced")
	}
}
