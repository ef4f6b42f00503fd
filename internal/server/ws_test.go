// ABOUTME: Tests for the websocket activity hub
// ABOUTME: Covers event delivery, slow-client eviction, and close semantics

package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

func dialActivityWS(t *testing.T, env *testEnv) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(env.server.Routes())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/activity"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func activity(agentRef string) *store.AgentActivity {
	return &store.AgentActivity{
		AgentRef:     agentRef,
		ActivityType: store.ActivityHeartbeat,
		ActivityData: map[string]any{"status": "active"},
		Timestamp:    time.Now().UTC(),
	}
}

func setupServerWithHub(t *testing.T) *testEnv {
	t.Helper()
	env := setupServer(t)
	env.server.hub = NewHub()
	return env
}

func TestHub_DeliversActivity(t *testing.T) {
	env := setupServerWithHub(t)
	conn, cleanup := dialActivityWS(t, env)
	defer cleanup()

	// The reader loop registers asynchronously after the upgrade.
	require.Eventually(t, func() bool {
		env.server.hub.mu.Lock()
		defer env.server.hub.mu.Unlock()
		return len(env.server.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	env.server.hub.Broadcast(activity("agent-1"))

	var event ActivityEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "agent-1", event.AgentRef)
	assert.Equal(t, string(store.ActivityHeartbeat), event.ActivityType)
}

type fakeCloser struct{ closed int }

func (f *fakeCloser) Close() error {
	f.closed++
	return nil
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	fake := &fakeCloser{}
	ch := make(chan ActivityEvent, 1)
	hub.clients[fake] = ch

	// First event fills the buffer, second one finds it full.
	hub.Broadcast(activity("agent-1"))

	hub.mu.Lock()
	_, present := hub.clients[fake]
	hub.mu.Unlock()
	assert.True(t, present)

	hub.Broadcast(activity("agent-2"))

	hub.mu.Lock()
	_, present = hub.clients[fake]
	hub.mu.Unlock()
	assert.False(t, present, "slow client should be evicted")
	assert.Equal(t, 1, fake.closed)

	// Its channel is closed so the writer loop exits.
	event := <-ch
	assert.Equal(t, "agent-1", event.AgentRef)
	_, open := <-ch
	assert.False(t, open)
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub := NewHub()
	hub.Close()

	_, ok := hub.add(&fakeCloser{})
	assert.False(t, ok)
}
