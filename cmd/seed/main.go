// Package main provides a CLI for seeding the local arena database with
// demo agents, investor holdings, and initial policies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	arenahttp "github.com/openagora/arena/internal/arena/api/http"
	"github.com/openagora/arena/internal/arena/decision"
	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/policy"
	"github.com/openagora/arena/internal/arena/storage/sqlite"
	"github.com/openagora/arena/internal/platform/config"
	"github.com/openagora/arena/internal/platform/id"
)

var demoNames = []string{
	"atlas", "borealis", "cascade", "drift", "ember",
	"flux", "garnet", "harbor", "iris", "juniper",
}

func main() {
	var (
		dbPath      string
		agents      int
		investors   int
		balance     string
		tokenWallet string
	)
	flag.StringVar(&dbPath, "db", filepath.Join("data", "arena.db"), "arena database path")
	flag.IntVar(&agents, "agents", 5, "number of demo agents to create")
	flag.IntVar(&investors, "investors", 2, "investor holdings per agent")
	flag.StringVar(&balance, "balance", "100", "starting balance per agent")
	flag.StringVar(&tokenWallet, "token", "", "also print an actor token for this wallet (requires ARENA_AUTH_SECRET)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, dbPath, agents, investors, balance, tokenWallet); err != nil {
		config.Exitf("seed: %v", err)
	}
}

func run(ctx context.Context, dbPath string, agents, investors int, balance, tokenWallet string) error {
	if agents < 1 || agents > len(demoNames) {
		return fmt.Errorf("agents must be between 1 and %d", len(demoNames))
	}
	startBalance, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("store close failed err=%v", err)
		}
	}()

	policies := policy.New(store, decision.NewStub(), policy.Config{})
	now := time.Now().UTC()

	for i := 0; i < agents; i++ {
		agentID, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate agent id: %w", err)
		}
		name := demoNames[i]
		agent := domain.Agent{
			ID:               agentID,
			Name:             name,
			WalletAddress:    "0x" + name,
			Balance:          startBalance,
			Reputation:       3.0,
			Status:           domain.AgentActive,
			InvestorShareBps: 7500,
			TotalRevenue:     decimal.Zero,
			TotalCosts:       decimal.Zero,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := store.PutAgent(ctx, agent); err != nil {
			return fmt.Errorf("create agent %s: %w", name, err)
		}

		for j := 0; j < investors; j++ {
			holding := domain.Holding{
				InvestorAddress: fmt.Sprintf("0xinvestor-%s-%d", name, j+1),
				// Uneven stakes so pro-rata distribution is visible.
				Units: int64((j + 1) * 10),
			}
			if err := store.PutHolding(ctx, agentID, holding); err != nil {
				return fmt.Errorf("create holding for %s: %w", name, err)
			}
		}

		if _, err := policies.EnsureInitialPolicy(ctx, agentID); err != nil {
			return fmt.Errorf("create initial policy for %s: %w", name, err)
		}
		log.Printf("seeded agent name=%s id=%s balance=%s investors=%d", name, agentID, startBalance, investors)
	}

	if tokenWallet != "" {
		secret := os.Getenv("ARENA_AUTH_SECRET")
		if secret == "" {
			return fmt.Errorf("ARENA_AUTH_SECRET is required to mint a token")
		}
		token, err := arenahttp.IssueActorToken(secret, tokenWallet, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("mint actor token: %w", err)
		}
		fmt.Println(token)
	}

	log.Printf("seed complete agents=%d db=%s", agents, dbPath)
	return nil
}
