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

const policyColumns = `id, agent_id, version, round, trigger_type, content, rationale, cost, created_at`

// AppendPolicyVersion inserts the next policy version for the agent. The
// version number is assigned inside the transaction (max + 1) so the log
// stays strictly increasing even with concurrent writers.
func (s *Store) AppendPolicyVersion(ctx context.Context, version domain.PolicyVersion) (domain.PolicyVersion, error) {
	if err := ctx.Err(); err != nil {
		return domain.PolicyVersion{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.PolicyVersion{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(version.ID) == "" {
		return domain.PolicyVersion{}, fmt.Errorf("policy version id is required")
	}
	if strings.TrimSpace(version.AgentID) == "" {
		return domain.PolicyVersion{}, fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(string(version.Trigger)) == "" {
		return domain.PolicyVersion{}, fmt.Errorf("trigger is required")
	}

	content, err := domain.EncodePolicyContent(version.Content)
	if err != nil {
		return domain.PolicyVersion{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("begin policy append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxVersion sql.NullInt64
	row := tx.QueryRowContext(ctx, `
SELECT MAX(version) FROM policy_versions WHERE agent_id = ?
`, version.AgentID)
	if err := row.Scan(&maxVersion); err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("read max policy version: %w", err)
	}
	version.Version = maxVersion.Int64 + 1

	if _, err := tx.ExecContext(ctx, `
INSERT INTO policy_versions (id, agent_id, version, round, trigger_type, content, rationale, cost, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		version.ID,
		version.AgentID,
		version.Version,
		version.Round,
		string(version.Trigger),
		content,
		version.Rationale,
		encodeDecimal(version.Cost),
		toMillis(version.CreatedAt),
	); err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("append policy version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE agents SET policy_version = ?, updated_at = ? WHERE id = ?
`, version.Version, nowMillis(), version.AgentID); err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("update agent policy pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.PolicyVersion{}, fmt.Errorf("commit policy append: %w", err)
	}
	return version, nil
}

// CurrentPolicy returns the highest policy version for the agent.
func (s *Store) CurrentPolicy(ctx context.Context, agentID string) (domain.PolicyVersion, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return domain.PolicyVersion{}, fmt.Errorf("agent id is required")
	}
	return s.getPolicyWhere(ctx, `WHERE agent_id = ? ORDER BY version DESC LIMIT 1`, agentID)
}

// LastPolicyByTrigger returns the newest version created by the trigger.
func (s *Store) LastPolicyByTrigger(ctx context.Context, agentID string, trigger domain.PolicyTrigger) (domain.PolicyVersion, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return domain.PolicyVersion{}, fmt.Errorf("agent id is required")
	}
	return s.getPolicyWhere(ctx, `WHERE agent_id = ? AND trigger_type = ? ORDER BY version DESC LIMIT 1`,
		agentID, string(trigger))
}

func (s *Store) getPolicyWhere(ctx context.Context, clause string, args ...any) (domain.PolicyVersion, error) {
	if err := ctx.Err(); err != nil {
		return domain.PolicyVersion{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.PolicyVersion{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+policyColumns+`
FROM policy_versions
`+clause, args...)

	version, err := scanPolicyVersion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PolicyVersion{}, storage.ErrNotFound
		}
		return domain.PolicyVersion{}, fmt.Errorf("get policy version: %w", err)
	}
	return version, nil
}

// ListPolicyVersions returns an agent's full policy log in version order.
func (s *Store) ListPolicyVersions(ctx context.Context, agentID string) ([]domain.PolicyVersion, error) {
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
SELECT `+policyColumns+`
FROM policy_versions
WHERE agent_id = ?
ORDER BY version
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.PolicyVersion
	for rows.Next() {
		version, err := scanPolicyVersion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan policy version row: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy version rows: %w", err)
	}
	return versions, nil
}

func scanPolicyVersion(scan func(dest ...any) error) (domain.PolicyVersion, error) {
	var (
		version   domain.PolicyVersion
		trigger   string
		content   string
		cost      string
		createdAt int64
	)
	if err := scan(
		&version.ID,
		&version.AgentID,
		&version.Version,
		&version.Round,
		&trigger,
		&content,
		&version.Rationale,
		&cost,
		&createdAt,
	); err != nil {
		return domain.PolicyVersion{}, err
	}

	decoded, err := domain.DecodePolicyContent(content)
	if err != nil {
		return domain.PolicyVersion{}, err
	}
	version.Content = decoded
	if version.Cost, err = decodeDecimal(cost); err != nil {
		return domain.PolicyVersion{}, err
	}
	version.Trigger = domain.PolicyTrigger(trigger)
	version.CreatedAt = fromMillis(createdAt)
	return version, nil
}
