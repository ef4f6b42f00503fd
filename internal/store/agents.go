// ABOUTME: Agent entity store methods with field-scoped status writers
// ABOUTME: Build, deploy, and heartbeat components each update only the fields they own

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const agentColumns = `
	id, agent_id, name, role_id, template_id, status, os_type, config,
	injection_target, stealth_level, last_seen, last_activity, created_at, updated_at
`

// CreateAgent inserts a new agent row. Generates ID and timestamps if not set.
// AgentID must be set by the caller and is enforced unique.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = now
	}
	if agent.Status == "" {
		agent.Status = AgentConfigured
	}

	config, err := marshalJSON(agent.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents
			(id, agent_id, name, role_id, template_id, status, os_type, config,
			 injection_target, stealth_level, last_seen, last_activity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.AgentID,
		agent.Name,
		nullIfEmpty(agent.RoleID),
		nullIfEmpty(agent.TemplateID),
		string(agent.Status),
		string(agent.OSType),
		config,
		agent.InjectionTarget,
		agent.StealthLevel,
		nullTimeString(agent.LastSeen),
		agent.LastActivity,
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "agent_id", agent.AgentID, "name", agent.Name, "status", agent.Status)
	return nil
}

// GetAgent returns an agent by internal row ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents WHERE id = ?"
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// GetAgentByAgentID returns an agent by its external USR identifier.
func (s *SQLiteStore) GetAgentByAgentID(ctx context.Context, agentID string) (*Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents WHERE agent_id = ?"
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, agentID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns agents matching the filter, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.OSType != "" {
		query += " AND os_type = ?"
		args = append(args, string(filter.OSType))
	}
	if filter.RoleID != "" {
		query += " AND role_id = ?"
		args = append(args, filter.RoleID)
	}
	query += " ORDER BY created_at DESC"
	query += limitClause(&args, filter.Limit, filter.Offset)

	return s.queryAgents(ctx, query, args...)
}

// UpdateAgentStatus writes only the status column. This is the build
// orchestrator's writer; it never touches heartbeat or deployment fields.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	query := `UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return checkAffected(res)
}

// SetAgentDeployOutcome writes the deployment orchestrator's fields in one
// statement. injectionTarget and lastSeen are only written when non-zero so
// failure paths leave them untouched.
func (s *SQLiteStore) SetAgentDeployOutcome(ctx context.Context, id string, status AgentStatus, injectionTarget string, lastSeen *time.Time) error {
	query := `UPDATE agents SET status = ?, updated_at = ?`
	args := []any{string(status), formatTime(time.Now().UTC())}
	if injectionTarget != "" {
		query += ", injection_target = ?"
		args = append(args, injectionTarget)
	}
	if lastSeen != nil {
		query += ", last_seen = ?"
		args = append(args, formatTime(*lastSeen))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent deploy outcome: %w", err)
	}
	return checkAffected(res)
}

// TouchAgentHeartbeat writes the heartbeat tracker's fields: status,
// last_seen, and (when provided) last_activity.
func (s *SQLiteStore) TouchAgentHeartbeat(ctx context.Context, id string, status AgentStatus, lastSeen time.Time, lastActivity string) error {
	query := `UPDATE agents SET status = ?, last_seen = ?, updated_at = ?`
	args := []any{string(status), formatTime(lastSeen), formatTime(time.Now().UTC())}
	if lastActivity != "" {
		query += ", last_activity = ?"
		args = append(args, lastActivity)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent heartbeat: %w", err)
	}
	return checkAffected(res)
}

// ListAgentsSeenSince returns agents in the given status with last_seen at or
// after the cutoff.
func (s *SQLiteStore) ListAgentsSeenSince(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error) {
	query := "SELECT " + agentColumns + ` FROM agents
		WHERE status = ? AND last_seen IS NOT NULL AND last_seen >= ?
		ORDER BY last_seen DESC`
	return s.queryAgents(ctx, query, string(status), formatTime(cutoff))
}

// ListAgentsStale returns agents in the given status with last_seen before the
// cutoff. Agents that never checked in are excluded.
func (s *SQLiteStore) ListAgentsStale(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error) {
	query := "SELECT " + agentColumns + ` FROM agents
		WHERE status = ? AND last_seen IS NOT NULL AND last_seen < ?
		ORDER BY last_seen`
	return s.queryAgents(ctx, query, string(status), formatTime(cutoff))
}

// CountAgents returns the total number of agent rows.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting agents: %w", err)
	}
	return n, nil
}

// CountAgentsByStatus returns agent counts grouped by status.
func (s *SQLiteStore) CountAgentsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM agents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting agents by status: %w", err)
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountActiveAgentsForRole returns the number of agents referencing the role
// that are in a state where the role must remain resolvable.
func (s *SQLiteStore) CountActiveAgentsForRole(ctx context.Context, roleID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM agents
		WHERE role_id = ? AND status IN (?, ?, ?, ?)
	`
	var n int
	err := s.db.QueryRowContext(ctx, query, roleID,
		string(AgentBuilding), string(AgentDeploying), string(AgentDeployed), string(AgentActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting agents for role: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...any) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row scanner) (*Agent, error) {
	var agent Agent
	var roleID, templateID, config, lastSeen sql.NullString
	var status, osType string
	var createdAt, updatedAt string

	err := row.Scan(
		&agent.ID,
		&agent.AgentID,
		&agent.Name,
		&roleID,
		&templateID,
		&status,
		&osType,
		&config,
		&agent.InjectionTarget,
		&agent.StealthLevel,
		&lastSeen,
		&agent.LastActivity,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	agent.RoleID = roleID.String
	agent.TemplateID = templateID.String
	agent.Status = AgentStatus(status)
	agent.OSType = OSType(osType)

	if agent.Config, err = unmarshalJSON(config); err != nil {
		return nil, err
	}
	if agent.LastSeen, err = parseNullTime(lastSeen); err != nil {
		return nil, err
	}
	if agent.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if agent.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &agent, nil
}

// checkAffected converts a zero-row update into ErrNotFound.
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullIfEmpty maps an empty string to NULL for nullable foreign keys.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTimeString maps a nil time to NULL for nullable timestamp columns.
func nullTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
