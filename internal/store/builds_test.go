package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestBuild(t *testing.T, s Store, agentRef string, status BuildStatus) *AgentBuild {
	t.Helper()
	build := &AgentBuild{
		AgentRef:    agentRef,
		BuildStatus: status,
		BuildConfig: map[string]any{"os_type": "linux"},
	}
	require.NoError(t, s.CreateBuildExclusive(context.Background(), build, false))
	return build
}

func TestStore_CreateBuildExclusive_Conflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000100", "", "")
	createTestBuild(t, store, agent.ID, BuildBuilding)

	err := store.CreateBuildExclusive(ctx, &AgentBuild{AgentRef: agent.ID}, false)
	assert.ErrorIs(t, err, ErrBuildInFlight)

	// The failed attempt must not have left a row behind.
	builds, err := store.ListBuilds(ctx, BuildFilter{AgentRef: agent.ID})
	require.NoError(t, err)
	assert.Len(t, builds, 1)
}

func TestStore_CreateBuildExclusive_Force(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000101", "", "")
	createTestBuild(t, store, agent.ID, BuildBuilding)

	err := store.CreateBuildExclusive(ctx, &AgentBuild{AgentRef: agent.ID, BuildStatus: BuildBuilding}, true)
	require.NoError(t, err)

	builds, err := store.ListBuilds(ctx, BuildFilter{AgentRef: agent.ID})
	require.NoError(t, err)
	assert.Len(t, builds, 2)
}

func TestStore_CreateBuildExclusive_AllowedAfterCompletion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000102", "", "")
	build := createTestBuild(t, store, agent.ID, BuildBuilding)

	require.NoError(t, store.CompleteBuild(ctx, build.ID, BuildOutcome{
		Status:      BuildFailed,
		BuildLog:    "compiler exploded",
		CompletedAt: time.Now().UTC(),
	}))

	err := store.CreateBuildExclusive(ctx, &AgentBuild{AgentRef: agent.ID}, false)
	assert.NoError(t, err)
}

func TestStore_CreateBuildExclusive_ConcurrentSingleWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000103", "", "")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreateBuildExclusive(ctx, &AgentBuild{AgentRef: agent.ID, BuildStatus: BuildBuilding}, false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrBuildInFlight)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent trigger may win")
}

func TestStore_CompleteBuild(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000104", "", "")
	build := createTestBuild(t, store, agent.ID, BuildBuilding)

	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CompleteBuild(ctx, build.ID, BuildOutcome{
		Status:      BuildReady,
		BinaryPath:  "/builds/USR0000104",
		BinarySize:  1024,
		BuildLog:    "ok",
		BuildTime:   12,
		CompletedAt: completedAt,
	}))

	retrieved, err := store.GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, BuildReady, retrieved.BuildStatus)
	assert.Equal(t, "/builds/USR0000104", retrieved.BinaryPath)
	assert.Equal(t, int64(1024), retrieved.BinarySize)
	require.NotNil(t, retrieved.CompletedAt)
	assert.Equal(t, completedAt, retrieved.CompletedAt.UTC().Truncate(time.Second))
}

func TestStore_DeleteBuild_RefusesInFlight(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000105", "", "")
	build := createTestBuild(t, store, agent.ID, BuildBuilding)

	err := store.DeleteBuild(ctx, build.ID)
	assert.ErrorIs(t, err, ErrBuildActive)

	require.NoError(t, store.CompleteBuild(ctx, build.ID, BuildOutcome{
		Status:      BuildReady,
		CompletedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.DeleteBuild(ctx, build.ID))

	_, err = store.GetBuild(ctx, build.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetBuild_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetBuild(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListBuilds_StatusFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000106", "", "")
	build := createTestBuild(t, store, agent.ID, BuildBuilding)
	require.NoError(t, store.CompleteBuild(ctx, build.ID, BuildOutcome{
		Status:      BuildFailed,
		CompletedAt: time.Now().UTC(),
	}))
	createTestBuild(t, store, agent.ID, BuildBuilding)

	failed, err := store.ListBuilds(ctx, BuildFilter{Status: BuildFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, build.ID, failed[0].ID)
}

func TestStore_BuildConfigSnapshotIsIndependent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000107", "", "")
	cfg := map[string]any{"role": "Developer"}
	build := &AgentBuild{AgentRef: agent.ID, BuildConfig: cfg, BuildStatus: BuildBuilding}
	require.NoError(t, store.CreateBuildExclusive(ctx, build, false))

	// Mutating the caller's map must not alter the stored snapshot.
	cfg["role"] = "Saboteur"

	retrieved, err := store.GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, "Developer", retrieved.BuildConfig["role"])
}
