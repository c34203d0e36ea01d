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

const bidColumns = `seq, id, job_id, agent_id, amount, status, created_at`

// CreateBid inserts a bid and returns it with the assigned submission
// sequence number.
func (s *Store) CreateBid(ctx context.Context, bid domain.Bid) (domain.Bid, error) {
	if err := ctx.Err(); err != nil {
		return domain.Bid{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Bid{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(bid.ID) == "" {
		return domain.Bid{}, fmt.Errorf("bid id is required")
	}
	if strings.TrimSpace(bid.JobID) == "" {
		return domain.Bid{}, fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(bid.AgentID) == "" {
		return domain.Bid{}, fmt.Errorf("agent id is required")
	}
	if bid.Status == "" {
		bid.Status = domain.BidPending
	}

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO bids (id, job_id, agent_id, amount, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		bid.ID,
		bid.JobID,
		bid.AgentID,
		encodeDecimal(bid.Amount),
		string(bid.Status),
		toMillis(bid.CreatedAt),
	)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("create bid: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return domain.Bid{}, fmt.Errorf("create bid sequence: %w", err)
	}
	bid.Sequence = seq
	return bid, nil
}

// ListBidsByJob returns a job's bids in submission order.
func (s *Store) ListBidsByJob(ctx context.Context, jobID string) ([]domain.Bid, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	return s.listBids(ctx, `WHERE job_id = ? ORDER BY seq`, jobID)
}

// ListRecentBidsByAgent returns the agent's newest bids, newest first.
func (s *Store) ListRecentBidsByAgent(ctx context.Context, agentID string, limit int) ([]domain.Bid, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	return s.listBids(ctx, `WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`, agentID, limit)
}

func (s *Store) listBids(ctx context.Context, clause string, args ...any) ([]domain.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+bidColumns+`
FROM bids
`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid rows: %w", err)
	}
	return bids, nil
}

// SetBidStatus finalizes a pending bid. Bids are immutable once their
// status leaves pending, so the update is guarded on the current status.
func (s *Store) SetBidStatus(ctx context.Context, bidID string, status domain.BidStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	bidID = strings.TrimSpace(bidID)
	if bidID == "" {
		return fmt.Errorf("bid id is required")
	}
	if status != domain.BidWon && status != domain.BidLost {
		return fmt.Errorf("bid status %q is not a terminal status", status)
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE bids
SET status = ?
WHERE id = ? AND status = ?
`, string(status), bidID, string(domain.BidPending))
	if err != nil {
		return fmt.Errorf("set bid status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set bid status rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM bids WHERE id = ?`, bidID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check bid existence: %w", scanErr)
		}
		return storage.ErrConflict
	}
	return nil
}

func scanBid(scan func(dest ...any) error) (domain.Bid, error) {
	var (
		bid       domain.Bid
		amount    string
		status    string
		createdAt int64
	)
	if err := scan(
		&bid.Sequence,
		&bid.ID,
		&bid.JobID,
		&bid.AgentID,
		&amount,
		&status,
		&createdAt,
	); err != nil {
		return domain.Bid{}, err
	}

	var err error
	if bid.Amount, err = decodeDecimal(amount); err != nil {
		return domain.Bid{}, err
	}
	bid.Status = domain.BidStatus(status)
	bid.CreatedAt = fromMillis(createdAt)
	return bid, nil
}
