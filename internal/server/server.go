// ABOUTME: HTTP server wiring handlers, middleware, and lifecycle
// ABOUTME: Owns the mux, route table, and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/auth"
	"github.com/lisa-sim/lisa-backend/internal/config"
	"github.com/lisa-sim/lisa-backend/internal/deploy"
	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// BuildTrigger starts builds for configured agents.
type BuildTrigger interface {
	TriggerBuild(ctx context.Context, agent *store.Agent, role *store.Role, tmpl *store.BehaviorTemplate, force bool) (*store.AgentBuild, error)
}

// AgentDeployer installs a built agent on a remote target.
type AgentDeployer interface {
	Deploy(ctx context.Context, agent *store.Agent, doc *agentcfg.Document, binaryPath string, target deploy.Target) error
}

// HeartbeatReceiver ingests agent heartbeats.
type HeartbeatReceiver interface {
	Receive(ctx context.Context, hb *heartbeat.Heartbeat) (*heartbeat.Ack, error)
}

// Server is the lisa-backend HTTP API.
type Server struct {
	cfg      *config.Config
	store    store.Store
	verifier auth.TokenVerifier
	builds   BuildTrigger
	deployer AgentDeployer
	tracker  HeartbeatReceiver
	gen      *agentcfg.Generator
	hub      *Hub
	logger   *slog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// New creates the API server. The hub may be nil when live activity
// streaming is disabled.
func New(cfg *config.Config, st store.Store, verifier auth.TokenVerifier, builds BuildTrigger, deployer AgentDeployer, tracker HeartbeatReceiver, gen *agentcfg.Generator, hub *Hub) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		verifier:  verifier,
		builds:    builds,
		deployer:  deployer,
		tracker:   tracker,
		gen:       gen,
		hub:       hub,
		logger:    slog.Default().With("component", "server"),
		startedAt: time.Now(),
	}
}

// Routes builds the complete route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	api := auth.RequireToken(s.verifier)
	hb := auth.RequireHeartbeatKey(s.cfg.Auth.HeartbeatKey)

	// Roles
	mux.Handle("POST /api/roles", api(http.HandlerFunc(s.handleCreateRole)))
	mux.Handle("GET /api/roles", api(http.HandlerFunc(s.handleListRoles)))
	mux.Handle("GET /api/roles/{id}", api(http.HandlerFunc(s.handleGetRole)))
	mux.Handle("PUT /api/roles/{id}", api(http.HandlerFunc(s.handleUpdateRole)))
	mux.Handle("DELETE /api/roles/{id}", api(http.HandlerFunc(s.handleDeleteRole)))

	// Behavior templates
	mux.Handle("POST /api/behavior-templates", api(http.HandlerFunc(s.handleCreateTemplate)))
	mux.Handle("GET /api/behavior-templates", api(http.HandlerFunc(s.handleListTemplates)))
	mux.Handle("GET /api/behavior-templates/{id}", api(http.HandlerFunc(s.handleGetTemplate)))

	// Agents
	mux.Handle("POST /api/agents/generate", api(http.HandlerFunc(s.handleGenerateAgent)))
	mux.Handle("GET /api/agents", api(http.HandlerFunc(s.handleListAgents)))
	mux.Handle("GET /api/agents/active", api(http.HandlerFunc(s.handleActiveAgents)))
	mux.Handle("GET /api/agents/statistics/summary", api(http.HandlerFunc(s.handleStatisticsSummary)))
	mux.Handle("GET /api/agents/{agent_id}/status", api(http.HandlerFunc(s.handleAgentStatus)))
	mux.Handle("GET /api/agents/{agent_id}/config/download", api(http.HandlerFunc(s.handleConfigDownload)))
	mux.Handle("GET /api/agents/{agent_id}/heartbeats", api(http.HandlerFunc(s.handleAgentHeartbeats)))
	mux.Handle("GET /api/agents/{agent_id}/logs", api(http.HandlerFunc(s.handleAgentLogs)))
	mux.Handle("POST /api/agents/{agent_id}/deploy", api(http.HandlerFunc(s.handleDeployAgent)))

	// Builds
	mux.Handle("POST /api/builds", api(http.HandlerFunc(s.handleTriggerBuild)))
	mux.Handle("GET /api/builds", api(http.HandlerFunc(s.handleListBuilds)))
	mux.Handle("GET /api/builds/{id}", api(http.HandlerFunc(s.handleGetBuild)))
	mux.Handle("DELETE /api/builds/{id}", api(http.HandlerFunc(s.handleDeleteBuild)))

	// Application templates
	mux.Handle("POST /api/application-templates", api(http.HandlerFunc(s.handleCreateApplication)))
	mux.Handle("GET /api/application-templates", api(http.HandlerFunc(s.handleListApplications)))
	mux.Handle("GET /api/application-templates/categories", api(http.HandlerFunc(s.handleApplicationCategories)))
	mux.Handle("GET /api/application-templates/{id}", api(http.HandlerFunc(s.handleGetApplication)))

	// Target servers
	mux.Handle("POST /api/servers", api(http.HandlerFunc(s.handleCreateServer)))
	mux.Handle("GET /api/servers", api(http.HandlerFunc(s.handleListServers)))
	mux.Handle("GET /api/servers/{name}", api(http.HandlerFunc(s.handleGetServer)))

	// Monitoring
	mux.Handle("GET /api/monitoring/overview", api(http.HandlerFunc(s.handleMonitoringOverview)))
	mux.Handle("GET /api/stats", api(http.HandlerFunc(s.handleStats)))

	// Agent-facing
	mux.Handle("POST /api/agents/heartbeat", hb(http.HandlerFunc(s.handleHeartbeat)))
	mux.Handle("POST /api/heartbeat", hb(http.HandlerFunc(s.handleHeartbeat)))

	// Open endpoints
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.hub != nil {
		mux.HandleFunc("GET /api/ws/activity", s.handleActivityWS)
	}
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.Handler())
	}

	return mux
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
