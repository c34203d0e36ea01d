package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

const seasonColumns = `id, number, start_round, end_round, status, rounds_completed, rounds_total, champion_agent_id, created_at, updated_at`

// CreateSeason inserts a new season. The partial unique index on ACTIVE
// status rejects a second active season at the schema level.
func (s *Store) CreateSeason(ctx context.Context, season domain.Season) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(season.ID) == "" {
		return fmt.Errorf("season id is required")
	}
	if season.Number <= 0 {
		return fmt.Errorf("season number must be positive")
	}
	if season.RoundsTotal <= 0 {
		return fmt.Errorf("season rounds total must be positive")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO seasons (
	id, number, start_round, end_round, status, rounds_completed, rounds_total, champion_agent_id, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		season.ID,
		season.Number,
		season.StartRound,
		season.EndRound,
		string(season.Status),
		season.RoundsCompleted,
		season.RoundsTotal,
		season.ChampionAgentID,
		toMillis(season.CreatedAt),
		toMillis(season.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return storage.ErrConflict
		}
		return fmt.Errorf("create season: %w", err)
	}
	return nil
}

// GetSeason fetches a season by id.
func (s *Store) GetSeason(ctx context.Context, seasonID string) (domain.Season, error) {
	seasonID = strings.TrimSpace(seasonID)
	if seasonID == "" {
		return domain.Season{}, fmt.Errorf("season id is required")
	}
	return s.getSeasonWhere(ctx, `WHERE id = ?`, seasonID)
}

// GetActiveSeason returns the single ACTIVE season, or ErrNotFound.
func (s *Store) GetActiveSeason(ctx context.Context) (domain.Season, error) {
	return s.getSeasonWhere(ctx, `WHERE status = ?`, string(domain.SeasonActive))
}

func (s *Store) getSeasonWhere(ctx context.Context, where string, args ...any) (domain.Season, error) {
	if err := ctx.Err(); err != nil {
		return domain.Season{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Season{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+seasonColumns+`
FROM seasons
`+where, args...)

	season, err := scanSeason(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Season{}, storage.ErrNotFound
		}
		return domain.Season{}, fmt.Errorf("get season: %w", err)
	}
	return season, nil
}

// ListSeasons returns all seasons ordered by number.
func (s *Store) ListSeasons(ctx context.Context) ([]domain.Season, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+seasonColumns+`
FROM seasons
ORDER BY number
`)
	if err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []domain.Season
	for rows.Next() {
		season, err := scanSeason(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan season row: %w", err)
		}
		seasons = append(seasons, season)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate season rows: %w", err)
	}
	return seasons, nil
}

// SetSeasonProgress updates the rounds-completed counter.
func (s *Store) SetSeasonProgress(ctx context.Context, seasonID string, roundsCompleted int64) error {
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

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE seasons
SET rounds_completed = ?, updated_at = ?
WHERE id = ?
`, roundsCompleted, nowMillis(), seasonID)
	if err != nil {
		return fmt.Errorf("set season progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set season progress rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteSeason marks an ACTIVE season COMPLETED with its champion. The
// status guard makes repeated completion a no-op at the row level, which
// gives callers idempotent finalization.
func (s *Store) CompleteSeason(ctx context.Context, seasonID string, endRound int64, championAgentID string) error {
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

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE seasons
SET status = ?, end_round = ?, champion_agent_id = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(domain.SeasonCompleted), endRound, championAgentID, nowMillis(), seasonID, string(domain.SeasonActive)); err != nil {
		return fmt.Errorf("complete season: %w", err)
	}
	return nil
}

func scanSeason(scan func(dest ...any) error) (domain.Season, error) {
	var (
		season    domain.Season
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&season.ID,
		&season.Number,
		&season.StartRound,
		&season.EndRound,
		&status,
		&season.RoundsCompleted,
		&season.RoundsTotal,
		&season.ChampionAgentID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Season{}, err
	}
	season.Status = domain.SeasonStatus(status)
	season.CreatedAt = fromMillis(createdAt)
	season.UpdatedAt = fromMillis(updatedAt)
	return season, nil
}
