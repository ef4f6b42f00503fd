// ABOUTME: HTTP API tests using the in-memory store and httptest
// ABOUTME: Covers auth, CRUD handlers, build/deploy triggers, and heartbeats

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/auth"
	"github.com/lisa-sim/lisa-backend/internal/config"
	"github.com/lisa-sim/lisa-backend/internal/deploy"
	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

type stubBuilds struct {
	err  error
	last *store.AgentBuild
}

func (b *stubBuilds) TriggerBuild(ctx context.Context, agent *store.Agent, role *store.Role, tmpl *store.BehaviorTemplate, force bool) (*store.AgentBuild, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.last = &store.AgentBuild{
		ID:          "build-1",
		AgentRef:    agent.ID,
		BuildStatus: store.BuildPending,
		CreatedAt:   time.Now().UTC(),
	}
	return b.last, nil
}

type stubDeployer struct {
	err    error
	target deploy.Target
	binary string
	calls  int
}

func (d *stubDeployer) Deploy(ctx context.Context, agent *store.Agent, doc *agentcfg.Document, binaryPath string, target deploy.Target) error {
	d.calls++
	d.target = target
	d.binary = binaryPath
	return d.err
}

type testEnv struct {
	server   *Server
	store    *store.MockStore
	builds   *stubBuilds
	deployer *stubDeployer
	token    string
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.HeartbeatKey = "hb-key"
	cfg.Metrics.Enabled = false

	st := store.NewMockStore()
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate("test-operator", time.Hour)
	require.NoError(t, err)

	builds := &stubBuilds{}
	deployer := &stubDeployer{}
	tracker := heartbeat.NewTracker(st, time.Minute, 0, 0)
	gen := agentcfg.NewGenerator(cfg.Server.CallbackURL, time.Minute)

	srv := New(cfg, st, verifier, builds, deployer, tracker, gen, nil)
	return &testEnv{server: srv, store: st, builds: builds, deployer: deployer, token: token}
}

// do issues an authenticated request against the route table.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithAuth(t, method, path, body, "Bearer "+e.token)
}

func (e *testEnv) doWithAuth(t *testing.T, method, path string, body any, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e *testEnv) seedRoleAndTemplate(t *testing.T) (*store.Role, *store.BehaviorTemplate) {
	t.Helper()
	ctx := context.Background()
	role := &store.Role{Name: "Accountant", Category: "office"}
	require.NoError(t, e.store.CreateRole(ctx, role))
	tmpl := &store.BehaviorTemplate{Name: "default", RoleID: role.ID, OSType: store.OSWindows,
		TemplateData: map[string]any{"apps": []any{"excel"}}}
	require.NoError(t, e.store.CreateTemplate(ctx, tmpl))
	return role, tmpl
}

func (e *testEnv) seedAgent(t *testing.T, role *store.Role, tmpl *store.BehaviorTemplate) *store.Agent {
	t.Helper()
	agent := &store.Agent{AgentID: "USR0000777", Name: "seeded", RoleID: role.ID,
		TemplateID: tmpl.ID, OSType: store.OSWindows, Status: store.AgentConfigured}
	require.NoError(t, e.store.CreateAgent(context.Background(), agent))
	return agent
}

func TestAPI_RequiresToken(t *testing.T) {
	env := setupServer(t)

	rec := env.doWithAuth(t, http.MethodGet, "/api/roles", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doWithAuth(t, http.MethodGet, "/api/roles", nil, "Bearer bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RoleLifecycle(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/roles", RoleRequest{Name: "Developer", Category: "tech"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[RoleResponse](t, rec)
	assert.Equal(t, "Developer", created.Name)
	assert.True(t, created.IsActive)

	// Duplicate name conflicts.
	rec = env.do(t, http.MethodPost, "/api/roles", RoleRequest{Name: "Developer", Category: "tech"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]RoleResponse](t, rec), 1)

	rec = env.do(t, http.MethodPut, "/api/roles/"+created.ID, RoleRequest{Description: "writes code"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "writes code", decodeBody[RoleResponse](t, rec).Description)

	rec = env.do(t, http.MethodDelete, "/api/roles/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/roles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeleteRoleInUse(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)
	require.NoError(t, env.store.UpdateAgentStatus(context.Background(), agent.ID, store.AgentActive))

	rec := env.do(t, http.MethodDelete, "/api/roles/"+role.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_GenerateAgent(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)

	rec := env.do(t, http.MethodPost, "/api/agents/generate", GenerateAgentRequest{
		Name:       "alice",
		RoleID:     role.ID,
		TemplateID: tmpl.ID,
		OSType:     "windows",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[GenerateAgentResponse](t, rec)
	assert.Regexp(t, `^USR\d{7}$`, resp.AgentID)
	assert.Equal(t, "Accountant", resp.Config.Role.Name)
	assert.Equal(t, fmt.Sprintf("/api/agents/%s/config/download", resp.AgentID), resp.DownloadURL)

	// OS mismatch with the template is rejected.
	rec = env.do(t, http.MethodPost, "/api/agents/generate", GenerateAgentRequest{
		Name: "bob", RoleID: role.ID, TemplateID: tmpl.ID, OSType: "linux",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown role 404s.
	rec = env.do(t, http.MethodPost, "/api/agents/generate", GenerateAgentRequest{
		Name: "carol", RoleID: "missing", TemplateID: tmpl.ID, OSType: "windows",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ConfigDownloadFormats(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)

	for format, contentType := range map[string]string{
		"json": "application/json",
		"yaml": "application/x-yaml",
		"toml": "application/toml",
	} {
		rec := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/agents/%s/config/download?format=%s", agent.AgentID, format), nil)
		require.Equal(t, http.StatusOK, rec.Code, format)
		assert.Equal(t, contentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), agent.AgentID)
	}
}

func TestAPI_TriggerBuild(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)

	rec := env.do(t, http.MethodPost, "/api/builds", TriggerBuildRequest{AgentID: agent.AgentID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decodeBody[BuildResponse](t, rec).BuildStatus)

	env.builds.err = store.ErrBuildInFlight
	rec = env.do(t, http.MethodPost, "/api/builds", TriggerBuildRequest{AgentID: agent.AgentID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/builds", TriggerBuildRequest{AgentID: "USR9999999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeployAgent(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)

	rec := env.do(t, http.MethodPost, "/api/agents/"+agent.AgentID+"/deploy", DeployRequest{
		Host: "10.1.2.3", Username: "ops", Password: "pw",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.deployer.calls)
	assert.Equal(t, "10.1.2.3", env.deployer.target.Host)

	// Missing credentials.
	rec = env.do(t, http.MethodPost, "/api/agents/"+agent.AgentID+"/deploy", DeployRequest{
		Host: "10.1.2.3", Username: "ops",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DeployAgentFromInventory(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)
	require.NoError(t, env.store.CreateServer(context.Background(), &store.Server{
		Name: "lab-1", IP: "10.9.9.9", Login: "root", Credential: "pw",
	}))

	rec := env.do(t, http.MethodPost, "/api/agents/"+agent.AgentID+"/deploy", DeployRequest{
		ServerName: "lab-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.9.9.9", env.deployer.target.Host)
}

func TestAPI_DeployUsesLatestReadyArtifact(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)
	ctx := context.Background()

	b := &store.AgentBuild{AgentRef: agent.ID, BuildStatus: store.BuildPending}
	require.NoError(t, env.store.CreateBuildExclusive(ctx, b, false))
	require.NoError(t, env.store.CompleteBuild(ctx, b.ID, store.BuildOutcome{
		Status: store.BuildReady, BinaryPath: "/artifacts/USR0000777_agent.exe",
		CompletedAt: time.Now().UTC(),
	}))

	rec := env.do(t, http.MethodPost, "/api/agents/"+agent.AgentID+"/deploy", DeployRequest{
		Host: "10.1.2.3", Username: "ops", Password: "pw",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/artifacts/USR0000777_agent.exe", env.deployer.binary)
}

func TestAPI_Heartbeat(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)

	rec := env.doWithAuth(t, http.MethodPost, "/api/heartbeat", map[string]any{
		"agent_id": agent.AgentID,
		"status":   "active",
	}, "Bearer hb-key")
	require.Equal(t, http.StatusOK, rec.Code)

	ack := decodeBody[heartbeat.Ack](t, rec)
	assert.Equal(t, "received", ack.Status)
	assert.Equal(t, agent.AgentID, ack.AgentID)
	assert.Equal(t, 60, ack.NextHeartbeatIn)

	// Wrong key is rejected.
	rec = env.doWithAuth(t, http.MethodPost, "/api/heartbeat", map[string]any{
		"agent_id": agent.AgentID,
	}, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing agent_id is a client error.
	rec = env.doWithAuth(t, http.MethodPost, "/api/heartbeat", map[string]any{
		"status": "active",
	}, "Bearer hb-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ActiveAgentsAndSummary(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)
	ctx := context.Background()
	require.NoError(t, env.store.TouchAgentHeartbeat(ctx, agent.ID, store.AgentActive, time.Now().UTC(), "Chrome"))

	rec := env.do(t, http.MethodGet, "/api/agents/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["active_count"])

	rec = env.do(t, http.MethodGet, "/api/agents/statistics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[map[string]any](t, rec)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["total_agents"])
	assert.Equal(t, float64(1), summary["active_agents"])
}

func TestAPI_Health(t *testing.T) {
	env := setupServer(t)

	rec := env.doWithAuth(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_MonitoringOverview(t *testing.T) {
	env := setupServer(t)
	role, tmpl := env.seedRoleAndTemplate(t)
	agent := env.seedAgent(t, role, tmpl)
	ctx := context.Background()
	require.NoError(t, env.store.SetAgentDeployOutcome(ctx, agent.ID, store.AgentDeployFailed, "", nil))

	rec := env.do(t, http.MethodGet, "/api/monitoring/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[map[string]any](t, rec)["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["failed_agents"])
}

func TestAPI_ApplicationsAndServers(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, http.MethodPost, "/api/application-templates", ApplicationRequest{
		Name: "chrome", DisplayName: "Google Chrome", Category: "browser", OSType: "windows",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	app := decodeBody[ApplicationResponse](t, rec)

	rec = env.do(t, http.MethodGet, "/api/application-templates/"+app.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/application-templates/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[map[string][]string](t, rec)["categories"], "browser")

	rec = env.do(t, http.MethodPost, "/api/servers", ServerRequest{
		Name: "lab-1", IP: "10.0.0.1", Login: "root", Password: "secret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	// Credentials never echo back.
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = env.do(t, http.MethodGet, "/api/servers/lab-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.1", decodeBody[ServerResponse](t, rec).IP)
}
