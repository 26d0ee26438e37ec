package server

import (
	"socialsync/internal/models"
	"socialsync/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetCommunities handles GET /api/communities
func (s *Server) GetCommunities(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c).Communities())
}

// GetCommunity handles GET /api/communities/:id
func (s *Server) GetCommunity(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	community, ok := sess.Community(id)
	if !ok {
		return respond(c, models.NewNotFoundError("Community", id))
	}
	body := fiber.Map{"community": community, "member": sess.IsMember(id)}
	if role, ok := sess.Role(id); ok {
		body["role"] = role
	}
	return c.JSON(body)
}

// CreateCommunity handles POST /api/communities
func (s *Server) CreateCommunity(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}

	community, p, err := sessionOf(c).CreateCommunity(c.UserContext(), service.CreateCommunityInput{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"community": community})
}

// JoinCommunity handles POST /api/communities/:id/join
func (s *Server) JoinCommunity(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	p, err := sessionOf(c).JoinCommunity(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, nil)
}

// LeaveCommunity handles DELETE /api/communities/:id/join
func (s *Server) LeaveCommunity(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	p, err := sessionOf(c).LeaveCommunity(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, nil)
}
