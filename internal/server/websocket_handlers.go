package server

import (
	"context"
	"encoding/json"
	"time"

	"socialsync/internal/middleware"
	"socialsync/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type readyFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Unread int    `json:"unread"`
}

// WebSocketUpgrade rejects plain HTTP requests to the websocket endpoint.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// WebsocketHandler streams the user's local collection changes. The session
// is started before the ready frame, so every change after it is delivered.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		if userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		// Register first so a concurrent release of the previous connection
		// sees this client and keeps the session.
		client, err := s.hub.Register(userID, conn)
		if err != nil {
			b, _ := json.Marshal(fiber.Map{"type": "error", "error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, b)
			_ = conn.Close()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sess, err := s.sessions.Get(ctx, userID)
		cancel()
		if err != nil {
			middleware.Logger.Warn("websocket session failed", "user_id", userID, "error", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"session unavailable"}`))
			s.hub.UnregisterClient(client)
			_ = conn.Close()
			return
		}

		client.OnFrame = func(c *notifications.Client, f notifications.Frame) {
			switch f.Type {
			case "unwatch":
				if err := s.sessions.Unwatch(c.UserID, f.Kind, f.Target); err != nil {
					b, _ := json.Marshal(fiber.Map{"type": "error", "error": err.Error()})
					c.TrySend(b)
				}
			case "resync":
				b, _ := json.Marshal(readyFrame{Type: "ready", UserID: c.UserID, Unread: sess.TotalUnread()})
				c.TrySend(b)
			}
		}

		hello, _ := json.Marshal(readyFrame{Type: "ready", UserID: userID, Unread: sess.TotalUnread()})
		client.TrySend(hello)

		go client.WritePump()
		client.ReadPump()
	})
}
