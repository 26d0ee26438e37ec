package server

import (
	"socialsync/internal/models"
	"socialsync/internal/service"

	"github.com/gofiber/fiber/v2"
)

// attachmentRequest carries an inline upload. Content is base64 in JSON.
type attachmentRequest struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

func toAttachments(in []attachmentRequest) []service.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]service.Attachment, len(in))
	for i, a := range in {
		out[i] = service.Attachment{Name: a.Name, Content: a.Content}
	}
	return out
}

// GetFeed handles GET /api/feed
func (s *Server) GetFeed(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c).Feed())
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	post, ok := sess.Post(id)
	if !ok {
		return respond(c, models.NewNotFoundError("Post", id))
	}
	return c.JSON(fiber.Map{
		"post":  post,
		"liked": sess.IsLiked(models.Subject{Type: models.SubjectPost, ID: id}),
	})
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Title       string              `json:"title"`
		Description string              `json:"description"`
		Content     string              `json:"content"`
		MediaURLs   []string            `json:"media_urls"`
		Tags        []string            `json:"tags"`
		Draft       bool                `json:"draft"`
		Attachments []attachmentRequest `json:"attachments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}

	post, p, err := sessionOf(c).CreatePost(c.UserContext(), service.CreatePostInput{
		Title:       req.Title,
		Description: req.Description,
		Content:     req.Content,
		MediaURLs:   req.MediaURLs,
		Tags:        req.Tags,
		Draft:       req.Draft,
		Attachments: toAttachments(req.Attachments),
	})
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"post": post})
}

// LikePost handles POST /api/posts/:id/like
func (s *Server) LikePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	p, err := sessionOf(c).LikePost(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, nil)
}

// UnlikePost handles DELETE /api/posts/:id/like
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	p, err := sessionOf(c).UnlikePost(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, nil)
}

// TogglePostLike handles POST /api/posts/:id/like/toggle. A second toggle
// while the first is in flight returns the same mutation.
func (s *Server) TogglePostLike(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	p, err := sess.TogglePostLike(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{
		"liked": sess.IsLiked(models.Subject{Type: models.SubjectPost, ID: id}),
	})
}
