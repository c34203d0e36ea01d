package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeasonStatus represents lifecycle state for a season.
type SeasonStatus string

const (
	// SeasonActive is the single season currently accepting rounds.
	SeasonActive SeasonStatus = "ACTIVE"
	// SeasonCompleted has been finalized with a champion.
	SeasonCompleted SeasonStatus = "COMPLETED"
)

// Season groups a fixed run of rounds. At most one season is ACTIVE at a
// time.
type Season struct {
	ID              string
	Number          int64
	StartRound      int64
	EndRound        int64
	Status          SeasonStatus
	RoundsCompleted int64
	RoundsTotal     int64
	ChampionAgentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsSeasonBoundary reports whether roundNumber is the last round of the
// season.
func IsSeasonBoundary(roundNumber int64, season Season) bool {
	return roundNumber-season.StartRound+1 >= season.RoundsTotal
}

// Snapshot captures one agent's state at the end of one round. Snapshots
// are an append-only time series; rows are never mutated after insertion.
type Snapshot struct {
	Round      int64
	SeasonID   string
	AgentID    string
	Balance    decimal.Decimal
	Reputation float64
	Status     AgentStatus
	Wins       int64
	Bids       int64
	CreatedAt  time.Time
}

// LeaderboardEntry ranks one agent within a season. BalanceDelta is the
// primary key, win rate breaks ties.
type LeaderboardEntry struct {
	SeasonID     string
	AgentID      string
	Rank         int64
	BalanceDelta decimal.Decimal
	WinRate      float64
	Wins         int64
	Bids         int64
}

// RankLeaderboard orders entries by balance delta descending, then win rate
// descending, then agent id for stability, and assigns 1-based ranks.
func RankLeaderboard(entries []LeaderboardEntry) []LeaderboardEntry {
	ranked := make([]LeaderboardEntry, len(entries))
	copy(ranked, entries)
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && leaderboardLess(ranked[j], ranked[j-1]); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	for i := range ranked {
		ranked[i].Rank = int64(i + 1)
	}
	return ranked
}

func leaderboardLess(a, b LeaderboardEntry) bool {
	switch a.BalanceDelta.Cmp(b.BalanceDelta) {
	case 1:
		return true
	case -1:
		return false
	}
	if a.WinRate != b.WinRate {
		return a.WinRate > b.WinRate
	}
	return a.AgentID < b.AgentID
}
