package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsSeasonBoundary(t *testing.T) {
	season := Season{StartRound: 1, RoundsTotal: 50}

	if IsSeasonBoundary(49, season) {
		t.Fatal("round 49 should not be a boundary")
	}
	if !IsSeasonBoundary(50, season) {
		t.Fatal("round 50 should be a boundary")
	}

	// Seasons that do not start at round 1 shift accordingly.
	later := Season{StartRound: 51, RoundsTotal: 50}
	if IsSeasonBoundary(99, later) {
		t.Fatal("round 99 should not be a boundary for season starting at 51")
	}
	if !IsSeasonBoundary(100, later) {
		t.Fatal("round 100 should be a boundary for season starting at 51")
	}
}

func TestRankLeaderboard(t *testing.T) {
	entries := []LeaderboardEntry{
		{AgentID: "a", BalanceDelta: decimal.RequireFromString("5"), WinRate: 0.2},
		{AgentID: "b", BalanceDelta: decimal.RequireFromString("12"), WinRate: 0.5},
		{AgentID: "c", BalanceDelta: decimal.RequireFromString("5"), WinRate: 0.4},
	}

	ranked := RankLeaderboard(entries)
	wantOrder := []string{"b", "c", "a"}
	for i, want := range wantOrder {
		if ranked[i].AgentID != want {
			t.Fatalf("rank %d = %s, want %s", i+1, ranked[i].AgentID, want)
		}
		if ranked[i].Rank != int64(i+1) {
			t.Fatalf("rank field = %d, want %d", ranked[i].Rank, i+1)
		}
	}
}

func TestDecodePolicyContentSchemaVersion(t *testing.T) {
	encoded, err := EncodePolicyContent(DefaultPolicyContent())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePolicyContent(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SchemaVersion != PolicySchemaVersion {
		t.Fatalf("schema version = %d, want %d", decoded.SchemaVersion, PolicySchemaVersion)
	}

	if _, err := DecodePolicyContent(`{"schema_version": 99}`); err == nil {
		t.Fatal("expected unsupported schema version error")
	}
}
