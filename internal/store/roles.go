// ABOUTME: Role entity store methods for the roles table
// ABOUTME: Soft-delete semantics with name uniqueness among active rows

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateRole inserts a new role. Generates ID and timestamps if not set.
// Returns ErrDuplicateName if an active role with the same name exists.
func (s *SQLiteStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = now
	}
	role.IsActive = true

	query := `
		INSERT INTO roles (id, name, description, category, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.Category,
		formatTime(role.CreatedAt),
		formatTime(role.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting role: %w", err)
	}

	s.logger.Debug("created role", "role_id", role.ID, "name", role.Name)
	return nil
}

// GetRole returns an active role by ID. Returns ErrNotFound for missing or
// soft-deleted rows.
func (s *SQLiteStore) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.getRole(ctx, id, true)
}

// GetRoleAny returns a role by ID regardless of its active flag. Callers use
// this to resolve stale references from agents created before the role was
// deactivated.
func (s *SQLiteStore) GetRoleAny(ctx context.Context, id string) (*Role, error) {
	return s.getRole(ctx, id, false)
}

func (s *SQLiteStore) getRole(ctx context.Context, id string, activeOnly bool) (*Role, error) {
	query := `
		SELECT id, name, description, category, is_active, created_at, updated_at
		FROM roles
		WHERE id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}

	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying role: %w", err)
	}
	return role, nil
}

// ListRoles returns active roles, optionally filtered by category.
func (s *SQLiteStore) ListRoles(ctx context.Context, category string, limit, offset int) ([]*Role, error) {
	query := `
		SELECT id, name, description, category, is_active, created_at, updated_at
		FROM roles
		WHERE is_active = 1
	`
	args := []any{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY name"
	query += limitClause(&args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole updates the mutable fields of an active role.
// Returns ErrNotFound if the role is missing or soft-deleted, and
// ErrDuplicateName if the new name collides with another active role.
func (s *SQLiteStore) UpdateRole(ctx context.Context, role *Role) error {
	role.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE roles
		SET name = ?, description = ?, category = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`
	res, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		role.Category,
		formatTime(role.UpdatedAt),
		role.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("updating role: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteRole flips the role's active flag. The delete is refused with
// ErrRoleInUse while agents in building/deployed/active states reference the
// role. Hard deletion is never performed.
func (s *SQLiteStore) SoftDeleteRole(ctx context.Context, id string) error {
	inUse, err := s.CountActiveAgentsForRole(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return ErrRoleInUse
	}

	query := `
		UPDATE roles
		SET is_active = 0, updated_at = ?
		WHERE id = ? AND is_active = 1
	`
	res, err := s.db.ExecContext(ctx, query, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("soft-deleted role", "role_id", id)
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner) (*Role, error) {
	var role Role
	var isActive int
	var createdAt, updatedAt string

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.Category,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.IsActive = isActive == 1

	if role.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if role.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &role, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// limitClause appends LIMIT/OFFSET to args and returns the SQL fragment.
// A non-positive limit means no limit.
func limitClause(args *[]any, limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	*args = append(*args, limit)
	clause := " LIMIT ?"
	if offset > 0 {
		*args = append(*args, offset)
		clause += " OFFSET ?"
	}
	return clause
}
