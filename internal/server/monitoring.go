// ABOUTME: HTTP handlers for monitoring, system health, and fleet statistics
// ABOUTME: Also serves per-agent activity logs

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

func (s *Server) handleMonitoringOverview(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), store.AgentFilter{})
	if err != nil {
		s.storeError(w, err)
		return
	}

	now := time.Now().UTC()
	var active, inactive, failed int
	for _, agent := range agents {
		switch {
		case agent.Status == store.AgentDeployFailed:
			failed++
		case heartbeat.Classify(agent.LastSeen, now) == heartbeat.LivenessActive:
			active++
		default:
			inactive++
		}
	}

	recent, err := s.store.ListActivities(r.Context(), store.ActivityFilter{Limit: 50})
	if err != nil {
		s.storeError(w, err)
		return
	}
	recentOut := make([]map[string]any, 0, len(recent))
	for _, a := range recent {
		recentOut = append(recentOut, map[string]any{
			"agent_ref":     a.AgentRef,
			"activity_type": string(a.ActivityType),
			"timestamp":     a.Timestamp.Format(time.RFC3339),
			"data":          a.ActivityData,
		})
	}

	health := "healthy"
	if active == 0 {
		health = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"statistics": map[string]any{
			"total_agents":    len(agents),
			"active_agents":   active,
			"inactive_agents": inactive,
			"failed_agents":   failed,
		},
		"recent_activities": recentOut,
		"system_health":     health,
	})
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgentByAgentID(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	activities, err := s.store.ListActivities(r.Context(), store.ActivityFilter{
		AgentRef: agent.ID,
		Limit:    100,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}

	logs := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		data, _ := json.Marshal(a.ActivityData)
		logs = append(logs, map[string]any{
			"timestamp": a.Timestamp.Format(time.RFC3339),
			"level":     "INFO",
			"message":   fmt.Sprintf("%s: %s", a.ActivityType, data),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agent.AgentID,
		"logs":     logs,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	status := "healthy"
	if _, err := s.store.CountAgents(r.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		status = "degraded"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"components": map[string]string{
			"database": dbStatus,
			"api":      "healthy",
		},
		"version": "0.1.0",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	roles, err := s.store.ListRoles(r.Context(), "", 0, 0)
	if err != nil {
		s.storeError(w, err)
		return
	}
	byCategory := map[string]int{}
	for _, role := range roles {
		byCategory[role.Category]++
	}

	agentCounts, err := s.store.CountAgentsByStatus(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	totalAgents, err := s.store.CountAgents(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	buildCounts, err := s.store.CountBuildsByStatus(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	templates, err := s.store.ListTemplates(r.Context(), store.TemplateFilter{})
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"roles": map[string]any{
			"total":       len(roles),
			"by_category": byCategory,
		},
		"templates": map[string]any{
			"total": len(templates),
		},
		"agents": map[string]any{
			"total":     totalAgents,
			"by_status": agentCounts,
		},
		"builds": map[string]any{
			"by_status": buildCounts,
		},
	})
}
