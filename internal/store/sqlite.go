// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides entity persistence with automatic schema creation

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// buildMu serializes the in-flight check and insert in CreateBuildExclusive.
	buildMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Pass ":memory:" for an
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS roles (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			is_active   INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_active_name
			ON roles(name) WHERE is_active = 1;

		CREATE TABLE IF NOT EXISTS behavior_templates (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			role_id       TEXT NOT NULL,
			os_type       TEXT NOT NULL,
			template_data TEXT NOT NULL,
			version       TEXT NOT NULL DEFAULT '1.0',
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			FOREIGN KEY (role_id) REFERENCES roles(id),
			CHECK (os_type IN ('windows', 'linux'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_active_role_name
			ON behavior_templates(role_id, name) WHERE is_active = 1;

		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			agent_id         TEXT NOT NULL UNIQUE,
			name             TEXT NOT NULL,
			role_id          TEXT,
			template_id      TEXT,
			status           TEXT NOT NULL DEFAULT 'configured',
			os_type          TEXT NOT NULL,
			config           TEXT,
			injection_target TEXT NOT NULL DEFAULT '',
			stealth_level    TEXT NOT NULL DEFAULT '',
			last_seen        TEXT,
			last_activity    TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			FOREIGN KEY (role_id) REFERENCES roles(id),
			FOREIGN KEY (template_id) REFERENCES behavior_templates(id)
		);

		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
		CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);

		CREATE TABLE IF NOT EXISTS agent_builds (
			id           TEXT PRIMARY KEY,
			agent_ref    TEXT NOT NULL,
			build_config TEXT NOT NULL,
			binary_path  TEXT NOT NULL DEFAULT '',
			binary_size  INTEGER NOT NULL DEFAULT 0,
			build_status TEXT NOT NULL DEFAULT 'pending',
			build_log    TEXT NOT NULL DEFAULT '',
			build_time   INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			completed_at TEXT,

			FOREIGN KEY (agent_ref) REFERENCES agents(id),
			CHECK (build_status IN ('pending', 'building', 'ready', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_builds_agent ON agent_builds(agent_ref);
		CREATE INDEX IF NOT EXISTS idx_builds_status ON agent_builds(build_status);

		CREATE TABLE IF NOT EXISTS agent_activities (
			id            TEXT PRIMARY KEY,
			agent_ref     TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			activity_data TEXT,
			timestamp     TEXT NOT NULL,

			FOREIGN KEY (agent_ref) REFERENCES agents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_activities_agent_ts
			ON agent_activities(agent_ref, timestamp);
		CREATE INDEX IF NOT EXISTS idx_activities_type
			ON agent_activities(activity_type);

		CREATE TABLE IF NOT EXISTS application_templates (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			display_name    TEXT NOT NULL,
			category        TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			version         TEXT NOT NULL DEFAULT '1.0',
			author          TEXT NOT NULL DEFAULT '',
			template_config TEXT,
			os_type         TEXT NOT NULL,
			is_active       INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_active_name
			ON application_templates(name) WHERE is_active = 1;

		CREATE TABLE IF NOT EXISTS servers (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			ip          TEXT NOT NULL,
			login       TEXT NOT NULL,
			credential  TEXT NOT NULL DEFAULT '',
			os          TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalJSON encodes a payload map for a TEXT column. A nil map is stored as NULL.
func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalJSON decodes a payload TEXT column. NULL yields a nil map.
func unmarshalJSON(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return m, nil
}

// formatTime encodes a timestamp for a TEXT column.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime decodes a timestamp TEXT column.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseNullTime decodes a nullable timestamp TEXT column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
