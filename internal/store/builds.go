// ABOUTME: AgentBuild store methods including the transactional in-flight exclusivity check
// ABOUTME: At most one pending/building row per agent unless the caller forces a rebuild

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const buildColumns = `
	id, agent_ref, build_config, binary_path, binary_size, build_status,
	build_log, build_time, created_at, completed_at
`

// CreateBuildExclusive inserts a build row after verifying no pending or
// building row exists for the same agent. The check and insert run inside a
// single immediate transaction so two concurrent TriggerBuild calls cannot
// both pass the check. With force set the check is skipped.
func (s *SQLiteStore) CreateBuildExclusive(ctx context.Context, build *AgentBuild, force bool) error {
	if build.ID == "" {
		build.ID = uuid.New().String()
	}
	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}
	if build.BuildStatus == "" {
		build.BuildStatus = BuildPending
	}

	config, err := marshalJSON(build.BuildConfig)
	if err != nil {
		return err
	}
	if !config.Valid {
		config = sql.NullString{String: "{}", Valid: true}
	}

	// The mutex serializes the check+insert pair against concurrent
	// TriggerBuild calls in this process; the transaction keeps the pair
	// atomic against the database itself.
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning build transaction: %w", err)
	}
	defer tx.Rollback()

	if !force {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM agent_builds WHERE agent_ref = ? AND build_status IN (?, ?)`,
			build.AgentRef, string(BuildPending), string(BuildBuilding),
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("checking in-flight builds: %w", err)
		}
		if n > 0 {
			return ErrBuildInFlight
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_builds
			(id, agent_ref, build_config, binary_path, binary_size, build_status,
			 build_log, build_time, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		build.ID,
		build.AgentRef,
		config.String,
		build.BinaryPath,
		build.BinarySize,
		string(build.BuildStatus),
		build.BuildLog,
		build.BuildTime,
		formatTime(build.CreatedAt),
		nullTimeString(build.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing build transaction: %w", err)
	}

	s.logger.Debug("created build", "build_id", build.ID, "agent_ref", build.AgentRef, "force", force)
	return nil
}

// GetBuild returns a build by ID.
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*AgentBuild, error) {
	query := "SELECT " + buildColumns + " FROM agent_builds WHERE id = ?"
	build, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying build: %w", err)
	}
	return build, nil
}

// ListBuilds returns builds matching the filter, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]*AgentBuild, error) {
	query := "SELECT " + buildColumns + " FROM agent_builds WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		query += " AND build_status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.AgentRef != "" {
		query += " AND agent_ref = ?"
		args = append(args, filter.AgentRef)
	}
	query += " ORDER BY created_at DESC"
	query += limitClause(&args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying builds: %w", err)
	}
	defer rows.Close()

	var builds []*AgentBuild
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, build)
	}
	return builds, rows.Err()
}

// MarkBuildBuilding moves a pending build into the building state.
func (s *SQLiteStore) MarkBuildBuilding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agent_builds SET build_status = ? WHERE id = ?",
		string(BuildBuilding), id,
	)
	if err != nil {
		return fmt.Errorf("marking build building: %w", err)
	}
	return checkAffected(res)
}

// CompleteBuild writes the terminal fields of a finished build.
func (s *SQLiteStore) CompleteBuild(ctx context.Context, id string, outcome BuildOutcome) error {
	query := `
		UPDATE agent_builds
		SET build_status = ?, binary_path = ?, binary_size = ?, build_log = ?,
		    build_time = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(outcome.Status),
		outcome.BinaryPath,
		outcome.BinarySize,
		outcome.BuildLog,
		outcome.BuildTime,
		formatTime(outcome.CompletedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("completing build: %w", err)
	}
	return checkAffected(res)
}

// DeleteBuild hard-deletes a build record. Builds still pending or building
// cannot be deleted; the agent's status would otherwise dangle on a row that
// no longer exists.
func (s *SQLiteStore) DeleteBuild(ctx context.Context, id string) error {
	build, err := s.GetBuild(ctx, id)
	if err != nil {
		return err
	}
	if build.BuildStatus == BuildPending || build.BuildStatus == BuildBuilding {
		return ErrBuildActive
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_builds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting build: %w", err)
	}
	return checkAffected(res)
}

// CountBuildsByStatus returns build counts grouped by status.
func (s *SQLiteStore) CountBuildsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT build_status, COUNT(*) FROM agent_builds GROUP BY build_status")
	if err != nil {
		return nil, fmt.Errorf("counting builds by status: %w", err)
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

func scanBuild(row scanner) (*AgentBuild, error) {
	var build AgentBuild
	var config sql.NullString
	var status string
	var createdAt string
	var completedAt sql.NullString

	err := row.Scan(
		&build.ID,
		&build.AgentRef,
		&config,
		&build.BinaryPath,
		&build.BinarySize,
		&status,
		&build.BuildLog,
		&build.BuildTime,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	build.BuildStatus = BuildStatus(status)

	if build.BuildConfig, err = unmarshalJSON(config); err != nil {
		return nil, err
	}
	if build.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if build.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &build, nil
}
