// ABOUTME: BehaviorTemplate store methods for the behavior_templates table
// ABOUTME: Template names are unique within the owning role among active rows

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTemplate inserts a new behavior template. Generates ID and timestamps
// if not set. Returns ErrDuplicateName if an active template with the same
// name exists for the role.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, tmpl *BehaviorTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	if tmpl.UpdatedAt.IsZero() {
		tmpl.UpdatedAt = now
	}
	if tmpl.Version == "" {
		tmpl.Version = "1.0"
	}
	tmpl.IsActive = true

	data, err := marshalJSON(tmpl.TemplateData)
	if err != nil {
		return err
	}
	if !data.Valid {
		data = sql.NullString{String: "{}", Valid: true}
	}

	query := `
		INSERT INTO behavior_templates
			(id, name, role_id, os_type, template_data, version, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.RoleID,
		string(tmpl.OSType),
		data.String,
		tmpl.Version,
		formatTime(tmpl.CreatedAt),
		formatTime(tmpl.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting template: %w", err)
	}

	s.logger.Debug("created behavior template", "template_id", tmpl.ID, "name", tmpl.Name, "role_id", tmpl.RoleID)
	return nil
}

// GetTemplate returns an active template by ID.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*BehaviorTemplate, error) {
	return s.getTemplate(ctx, id, true)
}

// GetTemplateAny returns a template by ID regardless of its active flag.
func (s *SQLiteStore) GetTemplateAny(ctx context.Context, id string) (*BehaviorTemplate, error) {
	return s.getTemplate(ctx, id, false)
}

func (s *SQLiteStore) getTemplate(ctx context.Context, id string, activeOnly bool) (*BehaviorTemplate, error) {
	query := `
		SELECT id, name, role_id, os_type, template_data, version, is_active, created_at, updated_at
		FROM behavior_templates
		WHERE id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}

	tmpl, err := scanTemplate(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}
	return tmpl, nil
}

// ListTemplates returns active templates matching the filter.
func (s *SQLiteStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*BehaviorTemplate, error) {
	query := `
		SELECT id, name, role_id, os_type, template_data, version, is_active, created_at, updated_at
		FROM behavior_templates
		WHERE is_active = 1
	`
	args := []any{}
	if filter.OSType != "" {
		query += " AND os_type = ?"
		args = append(args, string(filter.OSType))
	}
	if filter.RoleID != "" {
		query += " AND role_id = ?"
		args = append(args, filter.RoleID)
	}
	query += " ORDER BY name"
	query += limitClause(&args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []*BehaviorTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func scanTemplate(row scanner) (*BehaviorTemplate, error) {
	var tmpl BehaviorTemplate
	var osType string
	var data sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.RoleID,
		&osType,
		&data,
		&tmpl.Version,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	tmpl.OSType = OSType(osType)
	tmpl.IsActive = isActive == 1

	if tmpl.TemplateData, err = unmarshalJSON(data); err != nil {
		return nil, err
	}
	if tmpl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tmpl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &tmpl, nil
}
