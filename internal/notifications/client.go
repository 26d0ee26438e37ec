package notifications

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"socialsync/internal/middleware"
	"socialsync/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var (
	pongFrame   = []byte(`{"type":"pong"}`)
	resyncFrame = []byte(`{"type":"resync","reason":"buffer_full"}`)
)

// Frame is an inbound message from a UI client.
type Frame struct {
	Type   string `json:"type"`
	Kind   string `json:"kind,omitempty"`
	Target string `json:"target,omitempty"`
}

// Client is one UI connection. Notices queue on Send and are written by
// WritePump; frames read by ReadPump go to OnFrame.
type Client struct {
	hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string

	// OnFrame receives every decoded frame other than ping.
	OnFrame func(*Client, Frame)

	// set when a notice was dropped; the next write tells the UI to refetch
	lagging atomic.Bool

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{hub: h, Conn: conn, UserID: userID, Send: make(chan []byte, sendBuffer)}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()
	})
}

// ReadPump decodes inbound frames until the connection fails, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.Conn.SetPongHandler(extend)

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("ui socket closed unexpectedly", "user_id", c.UserID, "error", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		return
	}
	if f.Type == "ping" {
		c.TrySend(pongFrame)
		return
	}
	if c.OnFrame != nil {
		c.OnFrame(c, f)
	}
}

// WritePump drains Send onto the socket and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	write := func(kind int, b []byte) error {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.Conn.WriteMessage(kind, b)
	}

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				return
			}
			if c.lagging.CompareAndSwap(true, false) {
				if err := write(websocket.TextMessage, resyncFrame); err != nil {
					return
				}
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues msg without blocking. A full queue drops msg and marks the
// client as lagging, so it is told to resync once the queue drains.
func (c *Client) TrySend(msg []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "closed").Inc()
		return
	}
	select {
	case c.Send <- msg:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "full").Inc()
		if !c.lagging.Swap(true) {
			middleware.Logger.Warn("ui socket lagging, notices dropped", "user_id", c.UserID)
		}
	}
}

// Lagging reports whether notices were dropped since the last resync.
func (c *Client) Lagging() bool { return c.lagging.Load() }
