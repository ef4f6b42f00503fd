// ABOUTME: HTTP handlers for triggering and inspecting agent builds
// ABOUTME: Conflicting triggers return 409 unless force_rebuild is set

package server

import (
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// TriggerBuildRequest is the JSON body for POST /api/builds.
type TriggerBuildRequest struct {
	AgentID      string `json:"agent_id"`
	ForceRebuild bool   `json:"force_rebuild,omitempty"`
}

// BuildResponse is the JSON shape of a build record.
type BuildResponse struct {
	ID          string         `json:"id"`
	AgentRef    string         `json:"agent_ref"`
	BuildConfig map[string]any `json:"build_config,omitempty"`
	BinaryPath  string         `json:"binary_path,omitempty"`
	BinarySize  int64          `json:"binary_size,omitempty"`
	BuildStatus string         `json:"build_status"`
	BuildLog    string         `json:"build_log,omitempty"`
	BuildTime   int64          `json:"build_time_seconds,omitempty"`
	CreatedAt   string         `json:"created_at"`
	CompletedAt *string        `json:"completed_at"`
}

func buildResponse(b *store.AgentBuild) BuildResponse {
	var completedAt *string
	if b.CompletedAt != nil {
		v := b.CompletedAt.Format(time.RFC3339)
		completedAt = &v
	}
	return BuildResponse{
		ID:          b.ID,
		AgentRef:    b.AgentRef,
		BuildConfig: b.BuildConfig,
		BinaryPath:  b.BinaryPath,
		BinarySize:  b.BinarySize,
		BuildStatus: string(b.BuildStatus),
		BuildLog:    b.BuildLog,
		BuildTime:   b.BuildTime,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
		CompletedAt: completedAt,
	}
}

func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	var req TriggerBuildRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	agent, err := s.store.GetAgentByAgentID(r.Context(), req.AgentID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if agent.RoleID == "" || agent.TemplateID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agent has no role or template to build from")
		return
	}
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

	rec, err := s.builds.TriggerBuild(r.Context(), agent, role, tmpl, req.ForceRebuild)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, buildResponse(rec))
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := store.BuildFilter{
		Status: store.BuildStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		agent, err := s.store.GetAgentByAgentID(r.Context(), agentID)
		if err != nil {
			s.storeError(w, err)
			return
		}
		filter.AgentRef = agent.ID
	}

	builds, err := s.store.ListBuilds(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]BuildResponse, 0, len(builds))
	for _, b := range builds {
		out = append(out, buildResponse(b))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBuild(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, buildResponse(b))
}

func (s *Server) handleDeleteBuild(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBuild(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Build deleted"})
}
