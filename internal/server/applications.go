// ABOUTME: HTTP handlers for the application template catalog
// ABOUTME: Create, list, get, and enumerate categories

package server

import (
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// ApplicationRequest is the JSON body for POST /api/application-templates.
type ApplicationRequest struct {
	Name           string         `json:"name"`
	DisplayName    string         `json:"display_name"`
	Category       string         `json:"category"`
	Description    string         `json:"description,omitempty"`
	Version        string         `json:"version,omitempty"`
	Author         string         `json:"author,omitempty"`
	TemplateConfig map[string]any `json:"template_config,omitempty"`
	OSType         string         `json:"os_type"`
}

// ApplicationResponse is the JSON shape of an application template.
type ApplicationResponse struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	DisplayName    string         `json:"display_name"`
	Category       string         `json:"category"`
	Description    string         `json:"description,omitempty"`
	Version        string         `json:"version,omitempty"`
	Author         string         `json:"author,omitempty"`
	TemplateConfig map[string]any `json:"template_config,omitempty"`
	OSType         string         `json:"os_type"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      string         `json:"created_at"`
}

func applicationResponse(app *store.ApplicationTemplate) ApplicationResponse {
	return ApplicationResponse{
		ID:             app.ID,
		Name:           app.Name,
		DisplayName:    app.DisplayName,
		Category:       app.Category,
		Description:    app.Description,
		Version:        app.Version,
		Author:         app.Author,
		TemplateConfig: app.TemplateConfig,
		OSType:         string(app.OSType),
		IsActive:       app.IsActive,
		CreatedAt:      app.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req ApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Category == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name and category are required")
		return
	}
	if !store.ValidOSType(req.OSType) {
		s.sendJSONError(w, http.StatusBadRequest, "os_type must be windows or linux")
		return
	}

	app := &store.ApplicationTemplate{
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Category:       req.Category,
		Description:    req.Description,
		Version:        req.Version,
		Author:         req.Author,
		TemplateConfig: req.TemplateConfig,
		OSType:         store.OSType(req.OSType),
	}
	if err := s.store.CreateApplication(r.Context(), app); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, applicationResponse(app))
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	apps, err := s.store.ListApplications(r.Context(),
		r.URL.Query().Get("category"),
		store.OSType(r.URL.Query().Get("os_type")),
		limit, offset)
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, applicationResponse(app))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApplication(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, applicationResponse(app))
}

func (s *Server) handleApplicationCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListApplicationCategories(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}
