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

const agentColumns = `id, name, wallet_address, balance, reputation, status, investor_share_bps,
policy_version, tasks_completed, tasks_failed, total_revenue, total_costs, created_at, updated_at`

// PutAgent persists an agent record, inserting or updating by id.
func (s *Store) PutAgent(ctx context.Context, agent domain.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(agent.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(string(agent.Status)) == "" {
		return fmt.Errorf("agent status is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO agents (
	id, name, wallet_address, balance, reputation, status, investor_share_bps,
	policy_version, tasks_completed, tasks_failed, total_revenue, total_costs, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	wallet_address = excluded.wallet_address,
	balance = excluded.balance,
	reputation = excluded.reputation,
	status = excluded.status,
	investor_share_bps = excluded.investor_share_bps,
	policy_version = excluded.policy_version,
	tasks_completed = excluded.tasks_completed,
	tasks_failed = excluded.tasks_failed,
	total_revenue = excluded.total_revenue,
	total_costs = excluded.total_costs,
	updated_at = excluded.updated_at
`,
		agent.ID,
		agent.Name,
		agent.WalletAddress,
		encodeDecimal(agent.Balance),
		agent.Reputation,
		string(agent.Status),
		agent.InvestorShareBps,
		agent.PolicyVersion,
		agent.TasksCompleted,
		agent.TasksFailed,
		encodeDecimal(agent.TotalRevenue),
		encodeDecimal(agent.TotalCosts),
		toMillis(agent.CreatedAt),
		toMillis(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent record by id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return domain.Agent{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Agent{}, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return domain.Agent{}, fmt.Errorf("agent id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+agentColumns+`
FROM agents
WHERE id = ?
`, agentID)

	agent, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Agent{}, storage.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListEligibleAgents returns agents eligible to bid (ACTIVE or LOW_FUNDS),
// ordered by id for deterministic iteration.
func (s *Store) ListEligibleAgents(ctx context.Context) ([]domain.Agent, error) {
	return s.listAgentsWhere(ctx, `WHERE status IN (?, ?)`,
		string(domain.AgentActive), string(domain.AgentLowFunds))
}

// ListAgents returns all agents, dead ones included.
func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return s.listAgentsWhere(ctx, ``)
}

func (s *Store) listAgentsWhere(ctx context.Context, where string, args ...any) ([]domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+agentColumns+`
FROM agents
`+where+`
ORDER BY id
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return agents, nil
}

func scanAgent(scan func(dest ...any) error) (domain.Agent, error) {
	var (
		agent      domain.Agent
		balance    string
		status     string
		revenue    string
		costs      string
		createdAt  int64
		updatedAt  int64
	)
	if err := scan(
		&agent.ID,
		&agent.Name,
		&agent.WalletAddress,
		&balance,
		&agent.Reputation,
		&status,
		&agent.InvestorShareBps,
		&agent.PolicyVersion,
		&agent.TasksCompleted,
		&agent.TasksFailed,
		&revenue,
		&costs,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Agent{}, err
	}

	var err error
	if agent.Balance, err = decodeDecimal(balance); err != nil {
		return domain.Agent{}, err
	}
	if agent.TotalRevenue, err = decodeDecimal(revenue); err != nil {
		return domain.Agent{}, err
	}
	if agent.TotalCosts, err = decodeDecimal(costs); err != nil {
		return domain.Agent{}, err
	}
	agent.Status = domain.AgentStatus(status)
	agent.CreatedAt = fromMillis(createdAt)
	agent.UpdatedAt = fromMillis(updatedAt)
	return agent, nil
}
