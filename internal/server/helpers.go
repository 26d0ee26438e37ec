package server

import (
	"context"
	"time"

	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	sessionLocal = "session"
	// Upper bound for ?wait=true on mutation endpoints.
	maxMutationWait = 30 * time.Second
)

// respond writes err with the status its code maps to.
func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}

// parseID extracts a route parameter that must be a UUID.
func parseID(c *fiber.Ctx, param string) (string, error) {
	raw := c.Params(param)
	if _, err := uuid.Parse(raw); err != nil {
		return "", models.NewValidationError("Invalid " + param)
	}
	return raw, nil
}

// SessionRequired resolves the sync session of the authenticated user.
// Must be placed after Authenticator.Required.
func (s *Server) SessionRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		if userID == "" {
			return respond(c, models.NewUnauthorizedError("Authorization required"))
		}
		sess, err := s.sessions.Get(c.UserContext(), userID)
		if err != nil {
			return respond(c, err)
		}
		c.Locals(sessionLocal, sess)
		return c.Next()
	}
}

func sessionOf(c *fiber.Ctx) *service.Session {
	sess, _ := c.Locals(sessionLocal).(*service.Session)
	return sess
}

// mutationView is how a pending mutation is reported to clients.
type mutationView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func viewOf(p *optimistic.Pending) mutationView {
	v := mutationView{ID: p.ID(), Name: p.Name(), State: string(p.State())}
	if err := p.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// respondMutation reports an applied mutation. With ?wait=true the handler
// blocks until the remote write settles and reports a rollback as an error.
func respondMutation(c *fiber.Ctx, p *optimistic.Pending, body fiber.Map) error {
	if body == nil {
		body = fiber.Map{}
	}
	if c.QueryBool("wait") {
		ctx, cancel := context.WithTimeout(c.UserContext(), maxMutationWait)
		defer cancel()
		if err := p.Wait(ctx); err != nil {
			return respond(c, err)
		}
	}
	body["mutation"] = viewOf(p)

	status := fiber.StatusOK
	if p.State() == optimistic.StateApplied {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(body)
}
