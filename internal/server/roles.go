// ABOUTME: HTTP handlers for role management
// ABOUTME: Create, list, update, and soft-delete roles

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// RoleRequest is the JSON body for POST and PUT /api/roles.
type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// RoleResponse is the JSON shape of a role.
type RoleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func roleResponse(role *store.Role) RoleResponse {
	return RoleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Category:    role.Category,
		IsActive:    role.IsActive,
		CreatedAt:   role.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   role.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	role := &store.Role{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
	}
	if err := s.store.CreateRole(r.Context(), role); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, roleResponse(role))
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	roles, err := s.store.ListRoles(r.Context(), r.URL.Query().Get("category"), limit, offset)
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]RoleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleResponse(role))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.store.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roleResponse(role))
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.store.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	var req RoleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != "" {
		role.Name = req.Name
	}
	if req.Description != "" {
		role.Description = req.Description
	}
	if req.Category != "" {
		role.Category = req.Category
	}

	if err := s.store.UpdateRole(r.Context(), role); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roleResponse(role))
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	role, err := s.store.GetRole(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.SoftDeleteRole(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Role '" + role.Name + "' deleted successfully",
	})
}

// pagination reads skip/limit query parameters with sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
