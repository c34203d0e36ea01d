package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

// AppendRound appends one processed round aggregate.
func (s *Store) AppendRound(ctx context.Context, record storage.RoundRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if record.Round <= 0 {
		return fmt.Errorf("round must be positive")
	}
	if strings.TrimSpace(record.SeasonID) == "" {
		return fmt.Errorf("season id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO rounds (round, season_id, jobs_processed, jobs_completed, jobs_failed, bids_placed, total_revenue, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.Round,
		record.SeasonID,
		record.JobsProcessed,
		record.JobsCompleted,
		record.JobsFailed,
		record.BidsPlaced,
		encodeDecimal(record.TotalRevenue),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append round: %w", err)
	}
	return nil
}

// ListRounds returns a season's processed rounds in order.
func (s *Store) ListRounds(ctx context.Context, seasonID string) ([]storage.RoundRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	seasonID = strings.TrimSpace(seasonID)
	if seasonID == "" {
		return nil, fmt.Errorf("season id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT round, season_id, jobs_processed, jobs_completed, jobs_failed, bids_placed, total_revenue, created_at
FROM rounds
WHERE season_id = ?
ORDER BY round
`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var records []storage.RoundRecord
	for rows.Next() {
		var (
			record    storage.RoundRecord
			revenue   string
			createdAt int64
		)
		if err := rows.Scan(
			&record.Round,
			&record.SeasonID,
			&record.JobsProcessed,
			&record.JobsCompleted,
			&record.JobsFailed,
			&record.BidsPlaced,
			&revenue,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan round row: %w", err)
		}
		if record.TotalRevenue, err = decodeDecimal(revenue); err != nil {
			return nil, err
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round rows: %w", err)
	}
	return records, nil
}

// AppendSnapshots appends one row per agent for a processed round. The
// series is append-only; rows are never updated after insertion.
func (s *Store) AppendSnapshots(ctx context.Context, snapshots []domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshots (round, season_id, agent_id, balance, reputation, status, wins, bids, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			snap.Round,
			snap.SeasonID,
			snap.AgentID,
			encodeDecimal(snap.Balance),
			snap.Reputation,
			string(snap.Status),
			snap.Wins,
			snap.Bids,
			toMillis(snap.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

// ListSnapshots returns historical snapshots narrowed by the filter,
// ordered by round then agent id.
func (s *Store) ListSnapshots(ctx context.Context, filter storage.SnapshotFilter) ([]domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	where := []string{"1 = 1"}
	args := []any{}
	if filter.SeasonID != "" {
		where = append(where, "season_id = ?")
		args = append(args, filter.SeasonID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.FromRound > 0 {
		where = append(where, "round >= ?")
		args = append(args, filter.FromRound)
	}
	if filter.ToRound > 0 {
		where = append(where, "round <= ?")
		args = append(args, filter.ToRound)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT round, season_id, agent_id, balance, reputation, status, wins, bids, created_at
FROM snapshots
WHERE `+strings.Join(where, " AND ")+`
ORDER BY round, agent_id
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		var (
			snap      domain.Snapshot
			balance   string
			status    string
			createdAt int64
		)
		if err := rows.Scan(
			&snap.Round,
			&snap.SeasonID,
			&snap.AgentID,
			&balance,
			&snap.Reputation,
			&status,
			&snap.Wins,
			&snap.Bids,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if snap.Balance, err = decodeDecimal(balance); err != nil {
			return nil, err
		}
		snap.Status = domain.AgentStatus(status)
		snap.CreatedAt = fromMillis(createdAt)
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snapshots, nil
}

// ReplaceLeaderboard swaps a season's persisted standings atomically.
func (s *Store) ReplaceLeaderboard(ctx context.Context, seasonID string, entries []domain.LeaderboardEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	seasonID = strings.TrimSpace(seasonID)
	if seasonID == "" {
		return fmt.Errorf("season id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin leaderboard transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM leaderboard WHERE season_id = ?`, seasonID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO leaderboard (season_id, agent_id, rank, balance_delta, win_rate, wins, bids)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
			seasonID,
			entry.AgentID,
			entry.Rank,
			encodeDecimal(entry.BalanceDelta),
			entry.WinRate,
			entry.Wins,
			entry.Bids,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert leaderboard entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit leaderboard: %w", err)
	}
	return nil
}

// ListLeaderboard returns a season's standings ordered by rank.
func (s *Store) ListLeaderboard(ctx context.Context, seasonID string) ([]domain.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	seasonID = strings.TrimSpace(seasonID)
	if seasonID == "" {
		return nil, fmt.Errorf("season id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT season_id, agent_id, rank, balance_delta, win_rate, wins, bids
FROM leaderboard
WHERE season_id = ?
ORDER BY rank
`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var (
			entry domain.LeaderboardEntry
			delta string
		)
		if err := rows.Scan(
			&entry.SeasonID,
			&entry.AgentID,
			&entry.Rank,
			&delta,
			&entry.WinRate,
			&entry.Wins,
			&entry.Bids,
		); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		if entry.BalanceDelta, err = decodeDecimal(delta); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return entries, nil
}
