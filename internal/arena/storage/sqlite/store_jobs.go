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

const jobColumns = `id, type, status, max_bid, round, winning_bid_id, winner_agent_id, result_payload, failure_reason, created_at, updated_at`

// PutJob persists a job record, inserting or updating by id.
func (s *Store) PutJob(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(string(job.Status)) == "" {
		return fmt.Errorf("job status is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (
	id, type, status, max_bid, round, winning_bid_id, winner_agent_id, result_payload, failure_reason, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	type = excluded.type,
	status = excluded.status,
	max_bid = excluded.max_bid,
	round = excluded.round,
	winning_bid_id = excluded.winning_bid_id,
	winner_agent_id = excluded.winner_agent_id,
	result_payload = excluded.result_payload,
	failure_reason = excluded.failure_reason,
	updated_at = excluded.updated_at
`,
		job.ID,
		job.Type,
		string(job.Status),
		encodeDecimal(job.MaxBid),
		job.Round,
		job.WinningBidID,
		job.WinnerAgentID,
		job.ResultPayload,
		job.FailureReason,
		toMillis(job.CreatedAt),
		toMillis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// GetJob fetches a job record by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Job{}, fmt.Errorf("storage is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE id = ?
`, jobID)

	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, storage.ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobsByRound returns the jobs generated for one round, ordered by id.
func (s *Store) ListJobsByRound(ctx context.Context, round int64) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE round = ?
ORDER BY id
`, round)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// AssignJob moves an OPEN job to ASSIGNED with its winning bid reference.
// Returns ErrConflict when the job is no longer OPEN.
func (s *Store) AssignJob(ctx context.Context, jobID, bidID, agentID string) error {
	return s.transitionJob(ctx, jobID, domain.JobOpen, domain.JobAssigned, `
UPDATE jobs
SET status = ?, winning_bid_id = ?, winner_agent_id = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(domain.JobAssigned), bidID, agentID, nowMillis(), jobID, string(domain.JobOpen))
}

// CompleteJob moves an ASSIGNED job to COMPLETED, storing the execution
// result payload alongside the transition.
func (s *Store) CompleteJob(ctx context.Context, jobID, resultPayload string) error {
	return s.transitionJob(ctx, jobID, domain.JobAssigned, domain.JobCompleted, `
UPDATE jobs
SET status = ?, result_payload = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(domain.JobCompleted), resultPayload, nowMillis(), jobID, string(domain.JobAssigned))
}

// FailJob moves an ASSIGNED job to FAILED, retaining the failure reason.
func (s *Store) FailJob(ctx context.Context, jobID, reason string) error {
	return s.transitionJob(ctx, jobID, domain.JobAssigned, domain.JobFailed, `
UPDATE jobs
SET status = ?, failure_reason = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(domain.JobFailed), reason, nowMillis(), jobID, string(domain.JobAssigned))
}

// transitionJob runs a guarded status update. Zero affected rows means the
// job either does not exist (ErrNotFound) or was not in the expected state
// (ErrConflict); the distinction matters to callers enforcing the monotone
// job state machine.
func (s *Store) transitionJob(ctx context.Context, jobID string, from, to domain.JobStatus, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if err := domain.ValidateJobTransition(from, to); err != nil {
		return err
	}

	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check job existence: %w", scanErr)
		}
		return storage.ErrConflict
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var (
		job       domain.Job
		status    string
		maxBid    string
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&job.ID,
		&job.Type,
		&status,
		&maxBid,
		&job.Round,
		&job.WinningBidID,
		&job.WinnerAgentID,
		&job.ResultPayload,
		&job.FailureReason,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Job{}, err
	}

	var err error
	if job.MaxBid, err = decodeDecimal(maxBid); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}
