package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendActivity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000200", "", "")

	activity := &AgentActivity{
		AgentRef:     agent.ID,
		ActivityType: ActivityHeartbeat,
		ActivityData: map[string]any{"status": "active"},
	}
	require.NoError(t, store.AppendActivity(ctx, activity))
	assert.NotEmpty(t, activity.ID)
	assert.False(t, activity.Timestamp.IsZero())

	activities, err := store.ListActivities(ctx, ActivityFilter{AgentRef: agent.ID})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, ActivityHeartbeat, activities[0].ActivityType)
	assert.Equal(t, "active", activities[0].ActivityData["status"])
}

func TestStore_ListActivities_TypeFilterAndOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000201", "", "")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendActivity(ctx, &AgentActivity{
			AgentRef:     agent.ID,
			ActivityType: ActivityHeartbeat,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.AppendActivity(ctx, &AgentActivity{
		AgentRef:     agent.ID,
		ActivityType: ActivityStatistics,
		Timestamp:    base.Add(30 * time.Minute),
	}))

	heartbeats, err := store.ListActivities(ctx, ActivityFilter{
		AgentRef:     agent.ID,
		ActivityType: ActivityHeartbeat,
	})
	require.NoError(t, err)
	require.Len(t, heartbeats, 3)

	// Newest first.
	for i := 1; i < len(heartbeats); i++ {
		assert.True(t, heartbeats[i-1].Timestamp.After(heartbeats[i].Timestamp))
	}

	limited, err := store.ListActivities(ctx, ActivityFilter{AgentRef: agent.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ActivityIDsAreTimeSortable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, store, "USR0000202", "", "")

	first := &AgentActivity{AgentRef: agent.ID, ActivityType: ActivityHeartbeat, Timestamp: time.Now().UTC()}
	second := &AgentActivity{AgentRef: agent.ID, ActivityType: ActivityHeartbeat, Timestamp: time.Now().UTC().Add(time.Second)}
	require.NoError(t, store.AppendActivity(ctx, first))
	require.NoError(t, store.AppendActivity(ctx, second))

	assert.Less(t, first.ID, second.ID)
}
