// ABOUTME: WebSocket hub broadcasting new activities to live watchers
// ABOUTME: Clients subscribe via GET /api/ws/activity

package server

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// ActivityEvent is the JSON message pushed to websocket subscribers.
type ActivityEvent struct {
	AgentRef     string         `json:"agent_ref"`
	ActivityType string         `json:"activity_type"`
	Data         map[string]any `json:"data"`
	Timestamp    string         `json:"timestamp"`
}

// Hub fans activity events out to connected websocket clients. Slow clients
// are dropped rather than blocking the broadcast. Clients are tracked by
// their closer so the hub never touches the connection beyond disconnecting it.
type Hub struct {
	mu      sync.Mutex
	clients map[io.Closer]chan ActivityEvent
	closed  bool
	logger  *slog.Logger
}

// NewHub creates an activity hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[io.Closer]chan ActivityEvent),
		logger:  slog.Default().With("component", "ws"),
	}
}

// Broadcast queues an activity for all connected clients.
func (h *Hub) Broadcast(activity *store.AgentActivity) {
	event := ActivityEvent{
		AgentRef:     activity.AgentRef,
		ActivityType: string(activity.ActivityType),
		Data:         activity.ActivityData,
		Timestamp:    activity.Timestamp.Format(time.RFC3339),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Client is not keeping up; disconnect it.
			h.removeLocked(conn)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		h.removeLocked(conn)
	}
}

func (h *Hub) add(conn io.Closer) (chan ActivityEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan ActivityEvent, 64)
	h.clients[conn] = ch
	return ch, true
}

func (h *Hub) remove(conn io.Closer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn)
}

func (h *Hub) removeLocked(conn io.Closer) {
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
		conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operator dashboards connect from arbitrary origins in lab setups.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ch, ok := s.hub.add(conn)
	if !ok {
		conn.Close()
		return
	}
	defer s.hub.remove(conn)

	// Reader goroutine: only there to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
