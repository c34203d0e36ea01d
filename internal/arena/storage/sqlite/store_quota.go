package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AppendUsage appends one advance-usage record. Usage is recorded only
// after rounds actually complete, so a failed advance never consumes
// quota.
func (s *Store) AppendUsage(ctx context.Context, actor string, rounds int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	if rounds <= 0 {
		return fmt.Errorf("rounds must be positive")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO quota_usage (actor, rounds, created_at)
VALUES (?, ?, ?)
`, actor, rounds, toMillis(at)); err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// SumUsageSince totals an actor's recorded rounds since the cutoff.
func (s *Store) SumUsageSince(ctx context.Context, actor string, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return 0, fmt.Errorf("actor is required")
	}

	var total sql.NullInt64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT SUM(rounds) FROM quota_usage WHERE actor = ? AND created_at > ?
`, actor, toMillis(since))
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total.Int64, nil
}
