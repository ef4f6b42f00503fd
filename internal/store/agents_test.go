package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAgent_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	tmpl := createTestTemplate(t, store, role.ID, "dev-linux", OSLinux)

	agent := &Agent{
		AgentID:         "USR1234567",
		Name:            "john_doe",
		RoleID:          role.ID,
		TemplateID:      tmpl.ID,
		OSType:          OSLinux,
		InjectionTarget: "explorer.exe",
		Config:          map[string]any{"department": "engineering"},
	}
	require.NoError(t, store.CreateAgent(ctx, agent))

	retrieved, err := store.GetAgentByAgentID(ctx, "USR1234567")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, retrieved.ID)
	assert.Equal(t, AgentConfigured, retrieved.Status)
	assert.Nil(t, retrieved.LastSeen)
	assert.Equal(t, "engineering", retrieved.Config["department"])
}

func TestStore_CreateAgent_DuplicateAgentID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, &Agent{AgentID: "USR0000001", Name: "a", OSType: OSLinux}))
	err := store.CreateAgent(ctx, &Agent{AgentID: "USR0000001", Name: "b", OSType: OSLinux})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestStore_UpdateAgentStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000002", "", "")
	require.NoError(t, store.UpdateAgentStatus(ctx, agent.ID, AgentBuilding))

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentBuilding, retrieved.Status)
}

func TestStore_FieldScopedWritersDoNotClobber(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000003", "", "")

	// Heartbeat writes last_seen while the deploy orchestrator holds the
	// status; a later status-only write must not erase the heartbeat fields.
	seen := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.TouchAgentHeartbeat(ctx, agent.ID, AgentActive, seen, "Google Chrome"))
	require.NoError(t, store.UpdateAgentStatus(ctx, agent.ID, AgentDeploying))

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentDeploying, retrieved.Status)
	require.NotNil(t, retrieved.LastSeen)
	assert.Equal(t, seen, retrieved.LastSeen.UTC().Truncate(time.Second))
	assert.Equal(t, "Google Chrome", retrieved.LastActivity)
}

func TestStore_SetAgentDeployOutcome_FailureLeavesTargetUntouched(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000004", "", "")

	now := time.Now().UTC()
	require.NoError(t, store.SetAgentDeployOutcome(ctx, agent.ID, AgentDeployed, "10.0.0.5", &now))
	require.NoError(t, store.SetAgentDeployOutcome(ctx, agent.ID, AgentDeployFailed, "", nil))

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentDeployFailed, retrieved.Status)
	assert.Equal(t, "10.0.0.5", retrieved.InjectionTarget)
	assert.NotNil(t, retrieved.LastSeen)
}

func TestStore_ListAgentsSeenSince(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fresh := createTestAgent(t, store, "USR0000005", "", "")
	stale := createTestAgent(t, store, "USR0000006", "", "")

	now := time.Now().UTC()
	require.NoError(t, store.TouchAgentHeartbeat(ctx, fresh.ID, AgentActive, now, ""))
	require.NoError(t, store.TouchAgentHeartbeat(ctx, stale.ID, AgentActive, now.Add(-10*time.Minute), ""))

	// 5-minute threshold sees only the fresh agent.
	seen, err := store.ListAgentsSeenSince(ctx, AgentActive, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, fresh.ID, seen[0].ID)

	// 30-minute threshold sees both.
	seen, err = store.ListAgentsSeenSince(ctx, AgentActive, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	// The stale listing is the complement.
	staleAgents, err := store.ListAgentsStale(ctx, AgentActive, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, staleAgents, 1)
	assert.Equal(t, stale.ID, staleAgents[0].ID)
}

func TestStore_CountAgentsByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := createTestAgent(t, store, "USR0000007", "", "")
	createTestAgent(t, store, "USR0000008", "", "")
	require.NoError(t, store.UpdateAgentStatus(ctx, a.ID, AgentBuilt))

	counts, err := store.CountAgentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(AgentBuilt)])
	assert.Equal(t, 1, counts[string(AgentConfigured)])

	total, err := store.CountAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestStore_ListAgents_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	require.NoError(t, store.CreateAgent(ctx, &Agent{AgentID: "USR0000009", Name: "a", RoleID: role.ID, OSType: OSLinux}))
	require.NoError(t, store.CreateAgent(ctx, &Agent{AgentID: "USR0000010", Name: "b", OSType: OSWindows}))

	linux, err := store.ListAgents(ctx, AgentFilter{OSType: OSLinux})
	require.NoError(t, err)
	require.Len(t, linux, 1)
	assert.Equal(t, "USR0000009", linux[0].AgentID)

	byRole, err := store.ListAgents(ctx, AgentFilter{RoleID: role.ID})
	require.NoError(t, err)
	assert.Len(t, byRole, 1)
}
