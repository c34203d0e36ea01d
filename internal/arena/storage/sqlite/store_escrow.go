package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/storage"
)

// PutHolding persists one investor's stake in an agent.
func (s *Store) PutHolding(ctx context.Context, agentID string, holding domain.Holding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(holding.InvestorAddress) == "" {
		return fmt.Errorf("investor address is required")
	}
	if holding.Units < 0 {
		return fmt.Errorf("holding units must not be negative")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO holdings (agent_id, investor_address, units)
VALUES (?, ?, ?)
ON CONFLICT(agent_id, investor_address) DO UPDATE SET units = excluded.units
`, agentID, holding.InvestorAddress, holding.Units); err != nil {
		return fmt.Errorf("put holding: %w", err)
	}
	return nil
}

// ListHoldings returns an agent's investor stakes, largest first so that
// pro-rata remainder assignment is deterministic.
func (s *Store) ListHoldings(ctx context.Context, agentID string) ([]domain.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT investor_address, units
FROM holdings
WHERE agent_id = ? AND units > 0
ORDER BY units DESC, investor_address
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		var holding domain.Holding
		if err := rows.Scan(&holding.InvestorAddress, &holding.Units); err != nil {
			return nil, fmt.Errorf("scan holding row: %w", err)
		}
		holdings = append(holdings, holding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holding rows: %w", err)
	}
	return holdings, nil
}

// CreditEscrow adds amount to total_earned for the (agent, investor) pair,
// creating the row when absent. Decimal arithmetic happens in Go; the
// transaction keeps the read-modify-write atomic.
func (s *Store) CreditEscrow(ctx context.Context, agentID, investorAddress string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	investorAddress = strings.TrimSpace(investorAddress)
	if agentID == "" || investorAddress == "" {
		return fmt.Errorf("agent id and investor address are required")
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin escrow credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var earnedRaw string
	row := tx.QueryRowContext(ctx, `
SELECT total_earned FROM escrow WHERE agent_id = ? AND investor_address = ?
`, agentID, investorAddress)
	switch err := row.Scan(&earnedRaw); {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
INSERT INTO escrow (agent_id, investor_address, total_earned, total_claimed, updated_at)
VALUES (?, ?, ?, '0', ?)
`, agentID, investorAddress, encodeDecimal(amount), nowMillis()); err != nil {
			return fmt.Errorf("insert escrow: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read escrow: %w", err)
	default:
		earned, err := decodeDecimal(earnedRaw)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE escrow SET total_earned = ?, updated_at = ?
WHERE agent_id = ? AND investor_address = ?
`, encodeDecimal(earned.Add(amount)), nowMillis(), agentID, investorAddress); err != nil {
			return fmt.Errorf("update escrow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit escrow credit: %w", err)
	}
	return nil
}

// GetEscrow fetches the escrow record for one (agent, investor) pair.
func (s *Store) GetEscrow(ctx context.Context, agentID, investorAddress string) (domain.InvestorEscrow, error) {
	if err := ctx.Err(); err != nil {
		return domain.InvestorEscrow{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.InvestorEscrow{}, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	investorAddress = strings.TrimSpace(investorAddress)
	if agentID == "" || investorAddress == "" {
		return domain.InvestorEscrow{}, fmt.Errorf("agent id and investor address are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT agent_id, investor_address, total_earned, total_claimed, updated_at
FROM escrow
WHERE agent_id = ? AND investor_address = ?
`, agentID, investorAddress)

	escrow, err := scanEscrow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InvestorEscrow{}, storage.ErrNotFound
		}
		return domain.InvestorEscrow{}, fmt.Errorf("get escrow: %w", err)
	}
	return escrow, nil
}

// ListEscrowByAgent returns all escrow rows for one agent.
func (s *Store) ListEscrowByAgent(ctx context.Context, agentID string) ([]domain.InvestorEscrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT agent_id, investor_address, total_earned, total_claimed, updated_at
FROM escrow
WHERE agent_id = ?
ORDER BY investor_address
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list escrow: %w", err)
	}
	defer rows.Close()

	var escrows []domain.InvestorEscrow
	for rows.Next() {
		escrow, err := scanEscrow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan escrow row: %w", err)
		}
		escrows = append(escrows, escrow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return escrows, nil
}

// AddClaimed increases total_claimed for the pair. Claims that would
// exceed total_earned are rejected with ErrConflict, which is what makes a
// repeated claim with no new earnings fail instead of double-paying.
func (s *Store) AddClaimed(ctx context.Context, agentID, investorAddress string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	investorAddress = strings.TrimSpace(investorAddress)
	if agentID == "" || investorAddress == "" {
		return fmt.Errorf("agent id and investor address are required")
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("claim amount must be positive")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin escrow claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var earnedRaw, claimedRaw string
	row := tx.QueryRowContext(ctx, `
SELECT total_earned, total_claimed FROM escrow WHERE agent_id = ? AND investor_address = ?
`, agentID, investorAddress)
	if err := row.Scan(&earnedRaw, &claimedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read escrow: %w", err)
	}
	earned, err := decodeDecimal(earnedRaw)
	if err != nil {
		return err
	}
	claimed, err := decodeDecimal(claimedRaw)
	if err != nil {
		return err
	}
	if claimed.Add(amount).GreaterThan(earned) {
		return storage.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE escrow SET total_claimed = ?, updated_at = ?
WHERE agent_id = ? AND investor_address = ?
`, encodeDecimal(claimed.Add(amount)), nowMillis(), agentID, investorAddress); err != nil {
		return fmt.Errorf("update escrow claimed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit escrow claim: %w", err)
	}
	return nil
}

// AppendClaim appends one claim record to the append-only claim log.
func (s *Store) AppendClaim(ctx context.Context, claim domain.EscrowClaim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(claim.ID) == "" {
		return fmt.Errorf("claim id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO escrow_claims (id, agent_id, investor_address, amount, tx_hash, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		claim.ID,
		claim.AgentID,
		claim.InvestorAddress,
		encodeDecimal(claim.Amount),
		claim.TxHash,
		string(claim.Status),
		toMillis(claim.CreatedAt),
	); err != nil {
		return fmt.Errorf("append claim: %w", err)
	}
	return nil
}

// ListClaims returns claims for one (agent, investor) pair, oldest first.
func (s *Store) ListClaims(ctx context.Context, agentID, investorAddress string) ([]domain.EscrowClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, agent_id, investor_address, amount, tx_hash, status, created_at
FROM escrow_claims
WHERE agent_id = ? AND investor_address = ?
ORDER BY created_at, id
`, strings.TrimSpace(agentID), strings.TrimSpace(investorAddress))
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []domain.EscrowClaim
	for rows.Next() {
		var (
			claim     domain.EscrowClaim
			amount    string
			status    string
			createdAt int64
		)
		if err := rows.Scan(
			&claim.ID,
			&claim.AgentID,
			&claim.InvestorAddress,
			&amount,
			&claim.TxHash,
			&status,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan claim row: %w", err)
		}
		if claim.Amount, err = decodeDecimal(amount); err != nil {
			return nil, err
		}
		claim.Status = domain.ClaimStatus(status)
		claim.CreatedAt = fromMillis(createdAt)
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim rows: %w", err)
	}
	return claims, nil
}

func scanEscrow(scan func(dest ...any) error) (domain.InvestorEscrow, error) {
	var (
		escrow    domain.InvestorEscrow
		earned    string
		claimed   string
		updatedAt int64
	)
	if err := scan(
		&escrow.AgentID,
		&escrow.InvestorAddress,
		&earned,
		&claimed,
		&updatedAt,
	); err != nil {
		return domain.InvestorEscrow{}, err
	}

	var err error
	if escrow.TotalEarned, err = decodeDecimal(earned); err != nil {
		return domain.InvestorEscrow{}, err
	}
	if escrow.TotalClaimed, err = decodeDecimal(claimed); err != nil {
		return domain.InvestorEscrow{}, err
	}
	escrow.UpdatedAt = fromMillis(updatedAt)
	return escrow, nil
}
