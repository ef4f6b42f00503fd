// ABOUTME: HTTP handlers for behavior template management
// ABOUTME: Create, list, and fetch templates scoped to roles

package server

import (
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// TemplateRequest is the JSON body for POST /api/behavior-templates.
type TemplateRequest struct {
	Name         string         `json:"name"`
	RoleID       string         `json:"role_id"`
	OSType       string         `json:"os_type"`
	TemplateData map[string]any `json:"template_data"`
	Version      string         `json:"version,omitempty"`
}

// TemplateResponse is the JSON shape of a behavior template.
type TemplateResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	RoleID       string         `json:"role_id"`
	OSType       string         `json:"os_type"`
	TemplateData map[string]any `json:"template_data"`
	Version      string         `json:"version"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    string         `json:"created_at"`
}

func templateResponse(tmpl *store.BehaviorTemplate) TemplateResponse {
	return TemplateResponse{
		ID:           tmpl.ID,
		Name:         tmpl.Name,
		RoleID:       tmpl.RoleID,
		OSType:       string(tmpl.OSType),
		TemplateData: tmpl.TemplateData,
		Version:      tmpl.Version,
		IsActive:     tmpl.IsActive,
		CreatedAt:    tmpl.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.RoleID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name and role_id are required")
		return
	}
	if !store.ValidOSType(req.OSType) {
		s.sendJSONError(w, http.StatusBadRequest, "os_type must be windows or linux")
		return
	}

	// The role must exist and be active.
	if _, err := s.store.GetRole(r.Context(), req.RoleID); err != nil {
		s.storeError(w, err)
		return
	}

	tmpl := &store.BehaviorTemplate{
		Name:         req.Name,
		RoleID:       req.RoleID,
		OSType:       store.OSType(req.OSType),
		TemplateData: req.TemplateData,
		Version:      req.Version,
	}
	if err := s.store.CreateTemplate(r.Context(), tmpl); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, templateResponse(tmpl))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := store.TemplateFilter{
		RoleID: r.URL.Query().Get("role_id"),
		OSType: store.OSType(r.URL.Query().Get("os_type")),
		Limit:  limit,
		Offset: offset,
	}
	templates, err := s.store.ListTemplates(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]TemplateResponse, 0, len(templates))
	for _, tmpl := range templates {
		out = append(out, templateResponse(tmpl))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.store.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, templateResponse(tmpl))
}
