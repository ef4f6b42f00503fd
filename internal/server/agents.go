// ABOUTME: HTTP handlers for agent generation, listing, status, and config export
// ABOUTME: Config downloads render JSON, YAML, or TOML

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// GenerateAgentRequest is the JSON body for POST /api/agents/generate.
type GenerateAgentRequest struct {
	Name            string         `json:"name"`
	RoleID          string         `json:"role_id"`
	TemplateID      string         `json:"template_id"`
	OSType          string         `json:"os_type"`
	InjectionTarget string         `json:"injection_target,omitempty"`
	StealthLevel    string         `json:"stealth_level,omitempty"`
	CustomConfig    map[string]any `json:"custom_config,omitempty"`
}

// GenerateAgentResponse is the JSON response for POST /api/agents/generate.
type GenerateAgentResponse struct {
	AgentID     string             `json:"agent_id"`
	Message     string             `json:"message"`
	Config      *agentcfg.Document `json:"config"`
	DownloadURL string             `json:"download_url"`
	StatusURL   string             `json:"status_url"`
}

// AgentResponse is the JSON shape of an agent.
type AgentResponse struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	Name            string  `json:"name"`
	RoleID          string  `json:"role_id,omitempty"`
	TemplateID      string  `json:"template_id,omitempty"`
	Status          string  `json:"status"`
	OSType          string  `json:"os_type"`
	InjectionTarget string  `json:"injection_target,omitempty"`
	LastSeen        *string `json:"last_seen"`
	LastActivity    string  `json:"last_activity,omitempty"`
	Liveness        string  `json:"liveness"`
	CreatedAt       string  `json:"created_at"`
}

func agentResponse(agent *store.Agent, now time.Time) AgentResponse {
	var lastSeen *string
	if agent.LastSeen != nil {
		v := agent.LastSeen.Format(time.RFC3339)
		lastSeen = &v
	}
	return AgentResponse{
		ID:              agent.ID,
		AgentID:         agent.AgentID,
		Name:            agent.Name,
		RoleID:          agent.RoleID,
		TemplateID:      agent.TemplateID,
		Status:          string(agent.Status),
		OSType:          string(agent.OSType),
		InjectionTarget: agent.InjectionTarget,
		LastSeen:        lastSeen,
		LastActivity:    agent.LastActivity,
		Liveness:        string(heartbeat.Classify(agent.LastSeen, now)),
		CreatedAt:       agent.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleGenerateAgent(w http.ResponseWriter, r *http.Request) {
	var req GenerateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.RoleID == "" || req.TemplateID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name, role_id, and template_id are required")
		return
	}
	if !store.ValidOSType(req.OSType) {
		s.sendJSONError(w, http.StatusBadRequest, "os_type must be windows or linux")
		return
	}

	role, err := s.store.GetRole(r.Context(), req.RoleID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	tmpl, err := s.store.GetTemplate(r.Context(), req.TemplateID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if string(tmpl.OSType) != req.OSType {
		s.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("template OS (%s) doesn't match requested OS (%s)", tmpl.OSType, req.OSType))
		return
	}

	agent := &store.Agent{
		AgentID:         agentcfg.NewAgentID(),
		Name:            req.Name,
		RoleID:          req.RoleID,
		TemplateID:      req.TemplateID,
		OSType:          store.OSType(req.OSType),
		InjectionTarget: req.InjectionTarget,
		StealthLevel:    req.StealthLevel,
		Config:          req.CustomConfig,
		Status:          store.AgentConfigured,
	}
	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		s.storeError(w, err)
		return
	}

	doc := s.gen.Build(agent, role, tmpl)
	s.logger.Info("agent generated", "agent_id", agent.AgentID, "role", role.Name)

	s.writeJSON(w, http.StatusCreated, GenerateAgentResponse{
		AgentID:     agent.AgentID,
		Message:     fmt.Sprintf("Agent '%s' configured successfully", agent.Name),
		Config:      doc,
		DownloadURL: fmt.Sprintf("/api/agents/%s/config/download", agent.AgentID),
		StatusURL:   fmt.Sprintf("/api/agents/%s/status", agent.AgentID),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := store.AgentFilter{
		Status: store.AgentStatus(r.URL.Query().Get("status")),
		OSType: store.OSType(r.URL.Query().Get("os_type")),
		RoleID: r.URL.Query().Get("role_id"),
		Limit:  limit,
		Offset: offset,
	}
	agents, err := s.store.ListAgents(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}

	now := time.Now().UTC()
	out := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agentResponse(agent, now))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgentByAgentID(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	activities, err := s.store.ListActivities(r.Context(), store.ActivityFilter{
		AgentRef: agent.ID,
		Limit:    10,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}

	recent := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		recent = append(recent, map[string]any{
			"type":      string(a.ActivityType),
			"data":      a.ActivityData,
			"timestamp": a.Timestamp.Format(time.RFC3339),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent":             agentResponse(agent, time.Now().UTC()),
		"recent_activities": recent,
	})
}

func (s *Server) handleConfigDownload(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgentByAgentID(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if agent.RoleID == "" || agent.TemplateID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agent has no role or template to render a config from")
		return
	}

	// Soft-deleted roles and templates still render: the agent keeps its
	// stale reference.
	role, err := s.store.GetRoleAny(r.Context(), agent.RoleID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	tmpl, err := s.store.GetTemplateAny(r.Context(), agent.TemplateID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	format := agentcfg.ParseFormat(r.URL.Query().Get("format"))
	doc := s.gen.Build(agent, role, tmpl)
	data, err := agentcfg.Render(doc, format)
	if err != nil {
		s.logger.Error("failed to render config", "agent_id", agent.AgentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to render config")
		return
	}

	filename := fmt.Sprintf("%s_config.%s", agent.AgentID, format.Ext())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
