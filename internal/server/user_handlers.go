package server

import (
	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetMe handles GET /api/me
func (s *Server) GetMe(c *fiber.Ctx) error {
	sess := sessionOf(c)
	profile, _ := sess.Profile(sess.Me())
	return c.JSON(fiber.Map{
		"profile":         profile,
		"following_count": sess.FollowingCount(),
		"follower_count":  sess.FollowerCount(),
		"unread":          sess.TotalUnread(),
	})
}

// GetFollowing handles GET /api/me/following
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c).Following())
}

// GetFollowers handles GET /api/me/followers
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c).Followers())
}

// GetUserProfile handles GET /api/users/:id. The first call opens a profile
// watch.
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	w, err := s.sessions.Watch(c.UserContext(), middleware.UserID(c), WatchProfile, id)
	if err != nil {
		return respond(c, err)
	}
	profile, ok := w.Profile()
	if !ok {
		return respond(c, models.NewNotFoundError("User", id))
	}
	sess := sessionOf(c)
	return c.JSON(fiber.Map{
		"profile":        profile,
		"posts":          w.Posts(),
		"is_following":   sess.IsFollowing(id),
		"is_followed_by": sess.IsFollowedBy(id),
	})
}

func (s *Server) follow(c *fiber.Ctx, op func(*service.Session, *fiber.Ctx, string) (*optimistic.Pending, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	sess := sessionOf(c)
	p, err := op(sess, c, id)
	if err != nil {
		return respond(c, err)
	}
	return respondMutation(c, p, fiber.Map{"following": sess.IsFollowing(id)})
}

// Follow handles POST /api/users/:id/follow
func (s *Server) Follow(c *fiber.Ctx) error {
	return s.follow(c, func(sess *service.Session, c *fiber.Ctx, id string) (*optimistic.Pending, error) {
		return sess.Follow(c.UserContext(), id)
	})
}

// Unfollow handles DELETE /api/users/:id/follow
func (s *Server) Unfollow(c *fiber.Ctx) error {
	return s.follow(c, func(sess *service.Session, c *fiber.Ctx, id string) (*optimistic.Pending, error) {
		return sess.Unfollow(c.UserContext(), id)
	})
}

// ToggleFollow handles POST /api/users/:id/follow/toggle
func (s *Server) ToggleFollow(c *fiber.Ctx) error {
	return s.follow(c, func(sess *service.Session, c *fiber.Ctx, id string) (*optimistic.Pending, error) {
		return sess.ToggleFollow(c.UserContext(), id)
	})
}

// Unwatch handles DELETE /api/watches/:kind/:target
func (s *Server) Unwatch(c *fiber.Ctx) error {
	kind := c.Params("kind")
	switch kind {
	case WatchComments, WatchConversation, WatchProfile:
	default:
		return respond(c, models.NewValidationError("unknown watch kind "+kind))
	}
	target, err := parseID(c, "target")
	if err != nil {
		return respond(c, err)
	}
	if err := s.sessions.Unwatch(middleware.UserID(c), kind, target); err != nil {
		return respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
