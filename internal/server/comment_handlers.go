package server

import (
	"socialsync/internal/middleware"
	"socialsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetComments handles GET /api/posts/:id/comments. The first call opens a
// comments watch so later calls read the live tree.
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	w, err := s.sessions.Watch(c.UserContext(), middleware.UserID(c), WatchComments, postID)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(w.Threads())
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	var req struct {
		Text     string `json:"text"`
		ParentID string `json:"parent_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}

	comment, p, err := sessionOf(c).AddComment(c.UserContext(), postID, req.Text, req.ParentID)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"comment": comment})
}

// ToggleCommentLike handles POST /api/comments/:id/like/toggle
func (s *Server) ToggleCommentLike(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	p, err := sess.ToggleCommentLike(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{
		"liked": sess.IsLiked(models.Subject{Type: models.SubjectComment, ID: id}),
	})
}
