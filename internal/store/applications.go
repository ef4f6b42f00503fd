// ABOUTME: ApplicationTemplate store methods for the application_templates table
// ABOUTME: Application catalog entries referenced by behavior template payloads

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateApplication inserts a new application template. Returns
// ErrDuplicateName if an active entry with the same name exists.
func (s *SQLiteStore) CreateApplication(ctx context.Context, app *ApplicationTemplate) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}
	if app.Version == "" {
		app.Version = "1.0"
	}
	app.IsActive = true

	config, err := marshalJSON(app.TemplateConfig)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO application_templates
			(id, name, display_name, category, description, version, author,
			 template_config, os_type, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.DisplayName,
		app.Category,
		app.Description,
		app.Version,
		app.Author,
		config,
		string(app.OSType),
		formatTime(app.CreatedAt),
		formatTime(app.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting application template: %w", err)
	}
	return nil
}

// GetApplication returns an active application template by ID.
func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*ApplicationTemplate, error) {
	query := `
		SELECT id, name, display_name, category, description, version, author,
		       template_config, os_type, is_active, created_at, updated_at
		FROM application_templates
		WHERE id = ? AND is_active = 1
	`
	app, err := scanApplication(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying application template: %w", err)
	}
	return app, nil
}

// ListApplications returns active application templates matching the filters.
func (s *SQLiteStore) ListApplications(ctx context.Context, category string, osType OSType, limit, offset int) ([]*ApplicationTemplate, error) {
	query := `
		SELECT id, name, display_name, category, description, version, author,
		       template_config, os_type, is_active, created_at, updated_at
		FROM application_templates
		WHERE is_active = 1
	`
	args := []any{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	if osType != "" {
		query += " AND os_type = ?"
		args = append(args, string(osType))
	}
	query += " ORDER BY name"
	query += limitClause(&args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying application templates: %w", err)
	}
	defer rows.Close()

	var apps []*ApplicationTemplate
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application template: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ListApplicationCategories returns the distinct categories of active entries.
func (s *SQLiteStore) ListApplicationCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM application_templates WHERE is_active = 1 AND category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func scanApplication(row scanner) (*ApplicationTemplate, error) {
	var app ApplicationTemplate
	var config sql.NullString
	var osType string
	var isActive int
	var createdAt, updatedAt string

	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.DisplayName,
		&app.Category,
		&app.Description,
		&app.Version,
		&app.Author,
		&config,
		&osType,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.OSType = OSType(osType)
	app.IsActive = isActive == 1

	if app.TemplateConfig, err = unmarshalJSON(config); err != nil {
		return nil, err
	}
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &app, nil
}
