// ABOUTME: Tests for the deployment orchestrator using a fake transport
// ABOUTME: Covers success and failure outcomes, session closing, and fallback

package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

type fakeSession struct {
	commands []string
	files    map[string]string
	failOn   string // substring of a command that should fail
	closed   int
}

func (s *fakeSession) Run(ctx context.Context, cmd string) (string, error) {
	s.commands = append(s.commands, cmd)
	if s.failOn != "" && strings.Contains(cmd, s.failOn) {
		return "", fmt.Errorf("command failed: %s", cmd)
	}
	return "", nil
}

func (s *fakeSession) Put(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.files == nil {
		s.files = map[string]string{}
	}
	s.files[remotePath] = string(data)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeDialer struct {
	session *fakeSession
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, target Target) (Session, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}

func setupDeployer(t *testing.T, dialer Dialer) (*Deployer, *store.MockStore, *store.Agent, *agentcfg.Document) {
	t.Helper()
	st := store.NewMockStore()
	ctx := context.Background()

	role := &store.Role{Name: "Accountant", Category: "office"}
	require.NoError(t, st.CreateRole(ctx, role))
	tmpl := &store.BehaviorTemplate{RoleID: role.ID, Name: "default", OSType: store.OSLinux}
	require.NoError(t, st.CreateTemplate(ctx, tmpl))
	agent := &store.Agent{AgentID: "USR0000042", Name: "dep-agent", RoleID: role.ID,
		TemplateID: tmpl.ID, OSType: store.OSLinux, Status: store.AgentBuilt}
	require.NoError(t, st.CreateAgent(ctx, agent))

	doc := agentcfg.NewGenerator("http://localhost:8080", time.Minute).Build(agent, role, tmpl)
	d := NewDeployer(st, dialer, "/opt/lisa_agent", "lisa-agent")
	return d, st, agent, doc
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_binary")
	require.NoError(t, os.WriteFile(path, []byte("binary-bytes"), 0o755))
	return path
}

func listActivities(t *testing.T, st *store.MockStore, agentRef string) []*store.AgentActivity {
	t.Helper()
	acts, err := st.ListActivities(context.Background(), store.ActivityFilter{AgentRef: agentRef})
	require.NoError(t, err)
	return acts
}

func TestDeployer_Success(t *testing.T) {
	sess := &fakeSession{}
	d, st, agent, doc := setupDeployer(t, &fakeDialer{session: sess})
	binary := writeArtifact(t)
	ctx := context.Background()

	err := d.Deploy(ctx, agent, doc, binary, Target{Host: "10.0.0.5", Username: "ops", Password: "x"})
	require.NoError(t, err)

	updated, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentDeployed, updated.Status)
	assert.Equal(t, "10.0.0.5", updated.InjectionTarget)
	require.NotNil(t, updated.LastSeen)

	// Binary pushed, config installed, service started.
	assert.Equal(t, "binary-bytes", sess.files["/tmp/lisa_agent_push"])
	assert.Contains(t, sess.files, "/tmp/agent_config_push.json")
	assert.Contains(t, sess.files, "/tmp/lisa-agent.service")
	assert.Contains(t, sess.files["/tmp/lisa-agent.service"], "Restart=always")

	joined := strings.Join(sess.commands, "\n")
	assert.Contains(t, joined, "systemctl daemon-reload")
	assert.Contains(t, joined, "systemctl enable lisa-agent")
	assert.Contains(t, joined, "systemctl restart lisa-agent")

	assert.Equal(t, 1, sess.closed)

	acts := listActivities(t, st, agent.ID)
	require.Len(t, acts, 2)
	// Newest first.
	assert.Equal(t, store.ActivityDeploySuccess, acts[0].ActivityType)
	assert.Equal(t, store.ActivityDeployInitiated, acts[1].ActivityType)
}

func TestDeployer_RemoteCommandFailure(t *testing.T) {
	sess := &fakeSession{failOn: "systemctl enable"}
	d, st, agent, doc := setupDeployer(t, &fakeDialer{session: sess})
	ctx := context.Background()

	err := d.Deploy(ctx, agent, doc, writeArtifact(t), Target{Host: "10.0.0.5", Username: "ops", Password: "x"})
	require.Error(t, err)

	updated, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentDeployFailed, updated.Status)
	// Failure must not claim the target.
	assert.Empty(t, updated.InjectionTarget)

	assert.Equal(t, 1, sess.closed, "session must be closed on failure paths")

	acts := listActivities(t, st, agent.ID)
	require.Len(t, acts, 2)
	assert.Equal(t, store.ActivityDeployError, acts[0].ActivityType)
	assert.Contains(t, acts[0].ActivityData["error"], "systemctl enable")
}

func TestDeployer_DialFailure(t *testing.T) {
	d, st, agent, doc := setupDeployer(t, &fakeDialer{dialErr: fmt.Errorf("connection refused")})
	ctx := context.Background()

	err := d.Deploy(ctx, agent, doc, "", Target{Host: "10.0.0.9", Username: "ops", Password: "x"})
	require.Error(t, err)

	updated, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentDeployFailed, updated.Status)

	acts := listActivities(t, st, agent.ID)
	require.Len(t, acts, 2)
	assert.Equal(t, store.ActivityDeployError, acts[0].ActivityType)
}

// droppingDialer simulates the HTTP client disconnecting mid-deploy: the
// request context dies while the remote work is in progress.
type droppingDialer struct {
	cancel context.CancelFunc
}

func (d *droppingDialer) Dial(ctx context.Context, target Target) (Session, error) {
	d.cancel()
	return nil, ctx.Err()
}

func TestDeployer_ClientGoneMidDeployStillRecordsFailure(t *testing.T) {
	// Real SQLite store: unlike the mock it honors context cancellation,
	// which is exactly what the outcome writes must survive.
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "deploy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	role := &store.Role{Name: "Accountant", Category: "office"}
	require.NoError(t, st.CreateRole(ctx, role))
	tmpl := &store.BehaviorTemplate{RoleID: role.ID, Name: "default", OSType: store.OSLinux}
	require.NoError(t, st.CreateTemplate(ctx, tmpl))
	agent := &store.Agent{AgentID: "USR0000043", Name: "gone-client", RoleID: role.ID,
		TemplateID: tmpl.ID, OSType: store.OSLinux, Status: store.AgentBuilt}
	require.NoError(t, st.CreateAgent(ctx, agent))
	doc := agentcfg.NewGenerator("http://localhost:8080", time.Minute).Build(agent, role, tmpl)

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDeployer(st, &droppingDialer{cancel: cancel}, "/opt/lisa_agent", "lisa-agent")

	err = d.Deploy(reqCtx, agent, doc, "", Target{Host: "10.0.0.7", Username: "ops", Password: "x"})
	require.Error(t, err)

	// The agent must not be stuck in deploying.
	updated, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentDeployFailed, updated.Status)

	acts, err := st.ListActivities(ctx, store.ActivityFilter{AgentRef: agent.ID})
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, store.ActivityDeployError, acts[0].ActivityType)
	assert.Equal(t, store.ActivityDeployInitiated, acts[1].ActivityType)
}

func TestDeployer_FallbackScriptWhenNoArtifact(t *testing.T) {
	sess := &fakeSession{}
	d, _, agent, doc := setupDeployer(t, &fakeDialer{session: sess})
	ctx := context.Background()

	err := d.Deploy(ctx, agent, doc, "", Target{Host: "10.0.0.5", Username: "ops", Password: "x"})
	require.NoError(t, err)

	pushed := sess.files["/tmp/lisa_agent_push"]
	assert.Contains(t, pushed, "#!/bin/sh")
	assert.Contains(t, pushed, "USR0000042")
	assert.Contains(t, pushed, doc.Callback.URL)
}

func TestDeployer_MissingArtifactFallsBack(t *testing.T) {
	sess := &fakeSession{}
	d, _, agent, doc := setupDeployer(t, &fakeDialer{session: sess})
	ctx := context.Background()

	err := d.Deploy(ctx, agent, doc, "/nonexistent/path/agent", Target{Host: "10.0.0.5", Username: "ops", Password: "x"})
	require.NoError(t, err)
	assert.Contains(t, sess.files["/tmp/lisa_agent_push"], "#!/bin/sh")
}
