package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

// CurrentRound returns the global round counter.
func (s *Store) CurrentRound(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var round int64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT current_round FROM arena_state WHERE id = 1`)
	if err := row.Scan(&round); err != nil {
		return 0, fmt.Errorf("get current round: %w", err)
	}
	return round, nil
}

// SetCurrentRound writes the global round counter. Only the lock holder
// may call this; the lock enforces the single-writer discipline.
func (s *Store) SetCurrentRound(ctx context.Context, round int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if round < 0 {
		return fmt.Errorf("round must not be negative")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE arena_state SET current_round = ? WHERE id = 1
`, round); err != nil {
		return fmt.Errorf("set current round: %w", err)
	}
	return nil
}

// AutoRun returns the persisted auto-advance configuration.
func (s *Store) AutoRun(ctx context.Context) (storage.AutoRunConfig, error) {
	if err := ctx.Err(); err != nil {
		return storage.AutoRunConfig{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AutoRunConfig{}, fmt.Errorf("storage is not configured")
	}

	var (
		enabled    int
		intervalMs int64
		speed      float64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT autorun_enabled, autorun_interval_ms, autorun_speed FROM arena_state WHERE id = 1
`)
	if err := row.Scan(&enabled, &intervalMs, &speed); err != nil {
		return storage.AutoRunConfig{}, fmt.Errorf("get autorun config: %w", err)
	}
	return storage.AutoRunConfig{
		Enabled:  enabled != 0,
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Speed:    speed,
	}, nil
}

// SetAutoRun persists the auto-advance configuration.
func (s *Store) SetAutoRun(ctx context.Context, cfg storage.AutoRunConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("autorun interval must not be negative")
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE arena_state
SET autorun_enabled = ?, autorun_interval_ms = ?, autorun_speed = ?
WHERE id = 1
`, enabled, cfg.Interval.Milliseconds(), cfg.Speed); err != nil {
		return fmt.Errorf("set autorun config: %w", err)
	}
	return nil
}

// AcquireLock atomically takes the advance lock if it is unset or expired.
// The guarded UPDATE is the compare-and-set: it succeeds for exactly one
// caller when several race, and an expired holder loses ownership without
// an explicit release.
func (s *Store) AcquireLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return false, fmt.Errorf("lock holder is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive")
	}

	now := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE arena_lock
SET holder = ?, expires_at = ?
WHERE id = 1 AND (holder = '' OR expires_at <= ?)
`, holder, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReleaseLock unconditionally clears the advance lock.
func (s *Store) ReleaseLock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE arena_lock SET holder = '', expires_at = 0 WHERE id = 1
`); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// GetLock returns the current lock token.
func (s *Store) GetLock(ctx context.Context) (domain.Lock, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lock{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Lock{}, fmt.Errorf("storage is not configured")
	}

	var (
		holder    string
		expiresAt int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `SELECT holder, expires_at FROM arena_lock WHERE id = 1`)
	if err := row.Scan(&holder, &expiresAt); err != nil {
		return domain.Lock{}, fmt.Errorf("get lock: %w", err)
	}
	return domain.Lock{Holder: holder, ExpiresAt: fromMillis(expiresAt)}, nil
}
