// ABOUTME: HTTP handlers for heartbeat ingestion and liveness queries
// ABOUTME: Includes heartbeat history, active agents, and fleet statistics

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var hb heartbeat.Heartbeat
	if err := json.Unmarshal(body, &hb); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Preserve the full payload for the activity log.
	if err := json.Unmarshal(body, &hb.Raw); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ack, err := s.tracker.Receive(r.Context(), &hb)
	if errors.Is(err, heartbeat.ErrRateLimited) {
		s.sendJSONError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if err != nil {
		if hb.AgentID == "" {
			s.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
			return
		}
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleAgentHeartbeats(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgentByAgentID(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}

	activities, err := s.store.ListActivities(r.Context(), store.ActivityFilter{
		AgentRef:     agent.ID,
		ActivityType: store.ActivityHeartbeat,
		Limit:        limit,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}

	heartbeats := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		heartbeats = append(heartbeats, map[string]any{
			"timestamp": a.Timestamp.Format(time.RFC3339),
			"data":      a.ActivityData,
		})
	}

	var lastSeen *string
	if agent.LastSeen != nil {
		v := agent.LastSeen.Format(time.RFC3339)
		lastSeen = &v
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":   agent.AgentID,
		"agent_name": agent.Name,
		"last_seen":  lastSeen,
		"status":     string(agent.Status),
		"heartbeats": heartbeats,
	})
}

func (s *Server) handleActiveAgents(w http.ResponseWriter, r *http.Request) {
	threshold := 30
	if v, err := strconv.Atoi(r.URL.Query().Get("threshold_minutes")); err == nil && v > 0 {
		threshold = v
	}
	cutoff := time.Now().UTC().Add(-time.Duration(threshold) * time.Minute)

	agents, err := s.store.ListAgentsSeenSince(r.Context(), store.AgentActive, cutoff)
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		var lastSeen *string
		if agent.LastSeen != nil {
			v := agent.LastSeen.Format(time.RFC3339)
			lastSeen = &v
		}
		out = append(out, map[string]any{
			"agent_id":      agent.AgentID,
			"name":          agent.Name,
			"last_seen":     lastSeen,
			"last_activity": agent.LastActivity,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"threshold_minutes": threshold,
		"active_count":      len(agents),
		"agents":            out,
	})
}

func (s *Server) handleStatisticsSummary(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.CountAgents(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	active, err := s.store.ListAgentsSeenSince(r.Context(), store.AgentActive, cutoff)
	if err != nil {
		s.storeError(w, err)
		return
	}

	recent, err := s.store.ListActivities(r.Context(), store.ActivityFilter{
		ActivityType: store.ActivityHeartbeat,
		Limit:        5,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}

	recentOut := make([]map[string]any, 0, len(recent))
	for _, a := range recent {
		status, _ := a.ActivityData["status"].(string)
		recentOut = append(recentOut, map[string]any{
			"agent_ref": a.AgentRef,
			"timestamp": a.Timestamp.Format(time.RFC3339),
			"status":    status,
		})
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(len(active)) / float64(total) * 100
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"summary": map[string]any{
			"total_agents":      total,
			"active_agents":     len(active),
			"inactive_agents":   total - len(active),
			"percentage_active": percentage,
		},
		"recent_heartbeats": recentOut,
	})
}
