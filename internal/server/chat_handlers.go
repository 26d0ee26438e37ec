package server

import (
	"socialsync/internal/middleware"
	"socialsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	sess := sessionOf(c)
	return c.JSON(fiber.Map{
		"conversations": sess.Conversations(),
		"unread":        sess.TotalUnread(),
	})
}

// CreateConversation handles POST /api/conversations. It returns the
// existing conversation with the other user when there is one.
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}
	conv, err := sessionOf(c).GetOrCreateConversation(c.UserContext(), req.UserID)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(conv)
}

// GetMessages handles GET /api/conversations/:id/messages. The first call
// opens a conversation watch.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	w, err := s.sessions.Watch(c.UserContext(), middleware.UserID(c), WatchConversation, id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(w.Messages())
}

// SendMessage handles POST /api/conversations/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	var req struct {
		Text        string              `json:"text"`
		Attachments []attachmentRequest `json:"attachments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}

	msg, p, err := sessionOf(c).SendMessage(c.UserContext(), id, req.Text, toAttachments(req.Attachments))
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"message": msg})
}

// MarkAsRead handles POST /api/conversations/:id/read
func (s *Server) MarkAsRead(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	p, err := sess.MarkAsRead(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"unread": sess.Unread(id)})
}
