// ABOUTME: Heartbeat ingestion from deployed agents
// ABOUTME: Upserts unknown agents, records activities, and rate limits

package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lisa-sim/lisa-backend/internal/metrics"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// ErrRateLimited is returned when a heartbeat is dropped by the rate limiter.
var ErrRateLimited = errors.New("heartbeat rate limited")

// Heartbeat is a single check-in from a running agent.
type Heartbeat struct {
	AgentID         string         `json:"agent_id"`
	Username        string         `json:"username"`
	Status          string         `json:"status"`
	CurrentActivity map[string]any `json:"current_activity"`
	SystemInfo      map[string]any `json:"system_info"`
	Statistics      map[string]any `json:"statistics"`

	// Raw is the full decoded payload, preserved verbatim in the activity log.
	Raw map[string]any `json:"-"`
}

// Ack is the response returned to a heartbeating agent.
type Ack struct {
	Status          string   `json:"status"`
	AgentID         string   `json:"agent_id"`
	Timestamp       string   `json:"timestamp"`
	Message         string   `json:"message"`
	NextHeartbeatIn int      `json:"next_heartbeat_in"`
	Commands        []string `json:"commands,omitempty"`
}

// Tracker ingests heartbeats. Unknown agent IDs create a minimal agent record
// on first contact, so agents deployed out of band still show up.
type Tracker struct {
	store    store.Store
	interval time.Duration
	limiter  *rate.Limiter
	notify   func(*store.AgentActivity)
	logger   *slog.Logger
}

// NewTracker creates a heartbeat tracker. interval is the check-in hint
// returned to agents. ratePerSecond of zero disables rate limiting.
func NewTracker(st store.Store, interval time.Duration, ratePerSecond float64, burst int) *Tracker {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), max(burst, 1))
	}
	return &Tracker{
		store:    st,
		interval: interval,
		limiter:  limiter,
		logger:   slog.Default().With("component", "heartbeat"),
	}
}

// SetNotifier registers a hook invoked for every recorded activity. Used to
// fan heartbeats out to live watchers.
func (t *Tracker) SetNotifier(fn func(*store.AgentActivity)) {
	t.notify = fn
}

// Receive processes one heartbeat and returns the ack for the agent.
func (t *Tracker) Receive(ctx context.Context, hb *Heartbeat) (*Ack, error) {
	if hb.AgentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	if t.limiter != nil && !t.limiter.Allow() {
		metrics.HeartbeatsRejected.Inc()
		return nil, ErrRateLimited
	}

	agent, err := t.store.GetAgentByAgentID(ctx, hb.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		agent, err = t.registerUnknown(ctx, hb)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving agent %s: %w", hb.AgentID, err)
	}

	now := time.Now().UTC()
	status := heartbeatStatus(hb.Status)
	lastActivity := ""
	if app, ok := hb.CurrentActivity["application"].(string); ok {
		lastActivity = app
	}

	if err := t.store.TouchAgentHeartbeat(ctx, agent.ID, status, now, lastActivity); err != nil {
		return nil, fmt.Errorf("recording heartbeat for %s: %w", hb.AgentID, err)
	}

	t.appendActivity(ctx, agent.ID, store.ActivityHeartbeat, hb.activityData(), now)
	if len(hb.Statistics) > 0 {
		t.appendActivity(ctx, agent.ID, store.ActivityStatistics, hb.Statistics, now)
	}

	metrics.HeartbeatsTotal.Inc()
	t.logger.Debug("heartbeat received", "agent_id", hb.AgentID, "status", status)

	ack := &Ack{
		Status:          "received",
		AgentID:         hb.AgentID,
		Timestamp:       now.Format(time.RFC3339),
		Message:         "Heartbeat processed successfully",
		NextHeartbeatIn: int(t.interval.Seconds()),
	}
	if status == store.AgentActive {
		ack.Commands = []string{}
	}
	return ack, nil
}

// registerUnknown creates the minimal agent record for a first-contact
// heartbeat. These agents have no role or template reference.
func (t *Tracker) registerUnknown(ctx context.Context, hb *Heartbeat) (*store.Agent, error) {
	name := hb.Username
	if name == "" {
		name = "Unknown"
	}
	agent := &store.Agent{
		AgentID: hb.AgentID,
		Name:    name,
		OSType:  osFromSystemInfo(hb.SystemInfo),
		Status:  store.AgentActive,
		Config:  firstContactConfig(hb.Raw),
	}
	t.logger.Info("registering unknown agent from heartbeat", "agent_id", hb.AgentID)
	if err := t.store.CreateAgent(ctx, agent); err != nil {
		// Another heartbeat may have won the race; re-read.
		if existing, gerr := t.store.GetAgentByAgentID(ctx, hb.AgentID); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return agent, nil
}

func (t *Tracker) appendActivity(ctx context.Context, agentRef string, typ store.ActivityType, data map[string]any, ts time.Time) {
	activity := &store.AgentActivity{
		AgentRef:     agentRef,
		ActivityType: typ,
		ActivityData: data,
		Timestamp:    ts,
	}
	if err := t.store.AppendActivity(ctx, activity); err != nil {
		t.logger.Error("failed to append activity", "agent_ref", agentRef, "type", typ, "error", err)
		return
	}
	if t.notify != nil {
		t.notify(activity)
	}
}

func (hb *Heartbeat) activityData() map[string]any {
	if hb.Raw != nil {
		return hb.Raw
	}
	data := map[string]any{"agent_id": hb.AgentID, "status": hb.Status}
	if hb.CurrentActivity != nil {
		data["current_activity"] = hb.CurrentActivity
	}
	return data
}

// heartbeatStatus maps the agent-reported status onto the lifecycle enum.
// Agents only ever report active or stopping; anything else counts as active.
func heartbeatStatus(s string) store.AgentStatus {
	if s == string(store.AgentStopping) {
		return store.AgentStopping
	}
	return store.AgentActive
}

func osFromSystemInfo(info map[string]any) store.OSType {
	platform, _ := info["platform"].(string)
	if strings.Contains(strings.ToLower(platform), "windows") {
		return store.OSWindows
	}
	return store.OSLinux
}

func firstContactConfig(raw map[string]any) map[string]any {
	cfg := map[string]any{}
	for _, key := range []string{"role", "department", "location"} {
		if v, ok := raw[key]; ok {
			cfg[key] = v
		}
	}
	return cfg
}
