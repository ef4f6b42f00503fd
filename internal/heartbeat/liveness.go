// ABOUTME: Liveness classification and the background liveness monitor
// ABOUTME: Sweeps stale active agents into offline and updates gauges

package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/metrics"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// Liveness classifies how recently an agent checked in.
type Liveness string

const (
	// LivenessActive means a heartbeat arrived within the active window.
	LivenessActive Liveness = "active"
	// LivenessIdle means the last heartbeat is older than the active window
	// but inside the offline window.
	LivenessIdle Liveness = "idle"
	// LivenessOffline means the last heartbeat is older than the offline window.
	LivenessOffline Liveness = "offline"
	// LivenessNever means the agent has never heartbeated.
	LivenessNever Liveness = "never"
)

// Default classification windows. Callers with their own policy pass
// different ones to ClassifyWithin.
const (
	DefaultActiveWindow  = 5 * time.Minute
	DefaultOfflineWindow = 30 * time.Minute
)

// Classify returns the liveness of an agent under the default windows.
func Classify(lastSeen *time.Time, now time.Time) Liveness {
	return ClassifyWithin(lastSeen, now, DefaultActiveWindow, DefaultOfflineWindow)
}

// ClassifyWithin returns the liveness of an agent given its last heartbeat
// time and the active/offline thresholds to judge it against.
func ClassifyWithin(lastSeen *time.Time, now time.Time, activeWindow, offlineWindow time.Duration) Liveness {
	if lastSeen == nil {
		return LivenessNever
	}
	age := now.Sub(*lastSeen)
	switch {
	case age <= activeWindow:
		return LivenessActive
	case age <= offlineWindow:
		return LivenessIdle
	default:
		return LivenessOffline
	}
}

// Monitor periodically marks stale active agents offline and refreshes the
// agent population gauges.
type Monitor struct {
	store        store.Store
	offlineAfter time.Duration
	interval     time.Duration
	logger       *slog.Logger
}

// NewMonitor creates a liveness monitor. offlineAfter is how long after the
// last heartbeat an active agent is considered gone; interval is the sweep
// period.
func NewMonitor(st store.Store, offlineAfter, interval time.Duration) *Monitor {
	return &Monitor{
		store:        st,
		offlineAfter: offlineAfter,
		interval:     interval,
		logger:       slog.Default().With("component", "liveness"),
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "offline_after", m.offlineAfter, "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one monitor pass.
func (m *Monitor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.offlineAfter)

	stale, err := m.store.ListAgentsStale(ctx, store.AgentActive, cutoff)
	if err != nil {
		m.logger.Error("failed to list stale agents", "error", err)
		return
	}
	for _, agent := range stale {
		if err := m.store.UpdateAgentStatus(ctx, agent.ID, store.AgentOffline); err != nil {
			m.logger.Error("failed to mark agent offline", "agent_id", agent.AgentID, "error", err)
			continue
		}
		m.logger.Info("agent marked offline", "agent_id", agent.AgentID, "last_seen", agent.LastSeen)
	}

	active, err := m.store.ListAgentsSeenSince(ctx, store.AgentActive, time.Now().UTC().Add(-DefaultActiveWindow))
	if err != nil {
		m.logger.Error("failed to list active agents", "error", err)
		return
	}
	metrics.ActiveAgents.Set(float64(len(active)))

	counts, err := m.store.CountAgentsByStatus(ctx)
	if err != nil {
		m.logger.Error("failed to count agents", "error", err)
		return
	}
	for status, n := range counts {
		metrics.AgentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
