package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"socialsync/internal/observability"
	"socialsync/internal/reconcile"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	errServerFull = errors.New("server connection limit reached")
	errUserFull   = errors.New("user connection limit reached")
)

// Notice is the frame pushed to UI clients when a local collection changes.
type Notice struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Op         string `json:"op"`
	Origin     string `json:"origin"`
}

// NoticeFor converts a collection change into a UI frame.
func NoticeFor(ch reconcile.Change) Notice {
	return Notice{
		Type:       "change",
		Collection: ch.Collection,
		Key:        ch.Key,
		Op:         string(ch.Op),
		Origin:     string(ch.Origin),
	}
}

// Hub maps user ids to their connected UI clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	log        *observability.WSLogger
	onIdle     func(userID string)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Client]struct{}),
		log:   observability.NewWSLogger("ui"),
	}
}

// OnIdle registers fn to run after a user's last client unregisters. Set it
// before serving connections.
func (h *Hub) OnIdle(fn func(userID string)) {
	h.mu.Lock()
	h.onIdle = fn
	h.mu.Unlock()
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "ui hub" }

// Register a connection for userID. Fails when a connection limit is reached.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errServerFull
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, errUserFull
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), userID)
	return client, nil
}

// UnregisterClient removes client. Unknown clients are ignored.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	m, ok := h.conns[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := m[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(m, client)
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()
	last := len(m) == 0
	if last {
		delete(h.conns, client.UserID)
	}
	onIdle := h.onIdle
	h.mu.Unlock()

	client.closeSend()
	h.log.LogDisconnect(context.Background(), client.UserID, "unregistered")
	if last && onIdle != nil {
		onIdle(client.UserID)
	}
}

// Connected returns how many clients userID has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Total returns the number of open UI connections.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// Broadcast sends message to all connections for userID.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// Push encodes a collection change and sends it to userID.
func (h *Hub) Push(userID string, ch reconcile.Change) {
	b, err := json.Marshal(NoticeFor(ch))
	if err != nil {
		return
	}
	h.Broadcast(userID, b)
}

// Shutdown closes every client's send queue; each WritePump then sends a
// close frame and drops its connection.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userConns := range h.conns {
		for client := range userConns {
			client.closeSend()
			observability.WebSocketConnectionsTotal.Dec()
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
