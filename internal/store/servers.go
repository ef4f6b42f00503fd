// ABOUTME: Server inventory store methods for deployment target hosts
// ABOUTME: Simple CRUD keyed by unique server name

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateServer inserts a new deployment target record. Returns
// ErrDuplicateName if a server with the same name exists.
func (s *SQLiteStore) CreateServer(ctx context.Context, srv *Server) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO servers (id, name, description, ip, login, credential, os, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		srv.ID,
		srv.Name,
		srv.Description,
		srv.IP,
		srv.Login,
		srv.Credential,
		srv.OS,
		formatTime(srv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting server: %w", err)
	}
	return nil
}

// GetServerByName returns a server record by its unique name.
func (s *SQLiteStore) GetServerByName(ctx context.Context, name string) (*Server, error) {
	query := `
		SELECT id, name, description, ip, login, credential, os, created_at
		FROM servers
		WHERE name = ?
	`
	srv, err := scanServer(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return srv, nil
}

// ListServers returns all server records ordered by name.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*Server, error) {
	query := `
		SELECT id, name, description, ip, login, credential, os, created_at
		FROM servers
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func scanServer(row scanner) (*Server, error) {
	var srv Server
	var createdAt string

	err := row.Scan(
		&srv.ID,
		&srv.Name,
		&srv.Description,
		&srv.IP,
		&srv.Login,
		&srv.Credential,
		&srv.OS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if srv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &srv, nil
}
