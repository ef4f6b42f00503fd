// ABOUTME: Build orchestrator coordinating config handoff, builder runs, and status
// ABOUTME: Enforces at most one in-flight build per agent and records outcomes

package build

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/metrics"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// Orchestrator runs agent builds asynchronously. Each triggered build gets a
// persisted AgentBuild record; the agent's status tracks the build lifecycle
// (building, then built or error).
type Orchestrator struct {
	store       store.Store
	gen         *agentcfg.Generator
	builder     Builder
	workspace   string
	artifactDir string
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator creates a build orchestrator.
func NewOrchestrator(st store.Store, gen *agentcfg.Generator, builder Builder, workspace, artifactDir string) *Orchestrator {
	return &Orchestrator{
		store:       st,
		gen:         gen,
		builder:     builder,
		workspace:   workspace,
		artifactDir: artifactDir,
		logger:      slog.Default().With("component", "build"),
	}
}

// TriggerBuild creates a pending build record for the agent and starts the
// build in the background. Unless force is set, an agent with a pending or
// building record gets store.ErrBuildInFlight and no new record.
func (o *Orchestrator) TriggerBuild(ctx context.Context, agent *store.Agent, role *store.Role, tmpl *store.BehaviorTemplate, force bool) (*store.AgentBuild, error) {
	doc := o.gen.Build(agent, role, tmpl)

	snapshot, err := configSnapshot(doc)
	if err != nil {
		return nil, err
	}

	rec := &store.AgentBuild{
		ID:          uuid.New().String(),
		AgentRef:    agent.ID,
		BuildConfig: snapshot,
		BuildStatus: store.BuildPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateBuildExclusive(ctx, rec, force); err != nil {
		return nil, err
	}

	if err := o.store.UpdateAgentStatus(ctx, agent.ID, store.AgentBuilding); err != nil {
		o.logger.Error("failed to mark agent building", "agent_id", agent.AgentID, "error", err)
	}

	o.wg.Add(1)
	go o.runBuild(rec.ID, agent, doc)

	o.logger.Info("build triggered", "agent_id", agent.AgentID, "build_id", rec.ID, "force", force)
	return rec, nil
}

// runBuild executes one build to completion. It always writes a terminal
// build status, including on panic.
func (o *Orchestrator) runBuild(buildID string, agent *store.Agent, doc *agentcfg.Document) {
	defer o.wg.Done()

	// Detached from the request context: the HTTP request returns immediately
	// while the build keeps running.
	ctx := context.Background()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("build panicked", "build_id", buildID, "panic", r)
			o.finish(ctx, buildID, agent, start, nil, fmt.Errorf("build panicked: %v", r))
		}
	}()

	if err := o.store.MarkBuildBuilding(ctx, buildID); err != nil {
		o.logger.Error("failed to mark build building", "build_id", buildID, "error", err)
	}

	configPath, err := agentcfg.WriteHandoff(doc, o.workspace)
	if err != nil {
		o.finish(ctx, buildID, agent, start, nil, err)
		return
	}

	result, err := o.builder.Build(ctx, Request{
		AgentID:    agent.AgentID,
		TargetOS:   string(agent.OSType),
		ConfigPath: configPath,
		OutputPath: filepath.Join(o.artifactDir, artifactName(agent)),
	})
	o.finish(ctx, buildID, agent, start, result, err)
}

// finish records the terminal build outcome and the agent's resulting status.
func (o *Orchestrator) finish(ctx context.Context, buildID string, agent *store.Agent, start time.Time, result *Result, buildErr error) {
	elapsed := time.Since(start)
	outcome := store.BuildOutcome{
		BuildTime:   int64(elapsed.Seconds()),
		CompletedAt: time.Now().UTC(),
	}
	agentStatus := store.AgentBuilt

	if buildErr != nil {
		outcome.Status = store.BuildFailed
		outcome.BuildLog = buildErr.Error()
		agentStatus = store.AgentError
	} else {
		outcome.Status = store.BuildReady
		outcome.BinaryPath = result.BinaryPath
		outcome.BinarySize = result.BinarySize
		outcome.BuildLog = result.Log
	}

	if err := o.store.CompleteBuild(ctx, buildID, outcome); err != nil {
		o.logger.Error("failed to record build outcome", "build_id", buildID, "error", err)
	}
	if err := o.store.UpdateAgentStatus(ctx, agent.ID, agentStatus); err != nil {
		o.logger.Error("failed to update agent status", "agent_id", agent.AgentID, "error", err)
	}

	metrics.BuildsTotal.WithLabelValues(string(outcome.Status)).Inc()
	metrics.BuildDuration.Observe(elapsed.Seconds())

	if buildErr != nil {
		o.logger.Error("build failed", "agent_id", agent.AgentID, "build_id", buildID, "error", buildErr)
	} else {
		o.logger.Info("build finished", "agent_id", agent.AgentID, "build_id", buildID,
			"binary", outcome.BinaryPath, "size", outcome.BinarySize, "elapsed", elapsed)
	}
}

// Wait blocks until in-flight builds finish or the context expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for builds: %w", ctx.Err())
	}
}

// configSnapshot converts the config document into the generic map persisted
// on the build record, so the exact built configuration survives later edits
// to the agent.
func configSnapshot(doc *agentcfg.Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("snapshotting build config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("snapshotting build config: %w", err)
	}
	return m, nil
}

func artifactName(agent *store.Agent) string {
	if agent.OSType == store.OSWindows {
		return agent.AgentID + "_agent.exe"
	}
	return agent.AgentID + "_agent"
}
