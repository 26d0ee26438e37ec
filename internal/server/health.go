package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	probeHealthy     = "healthy"
	probeUnhealthy   = "unhealthy"
	probeUnavailable = "unavailable"
)

type probe struct {
	name string
	// required probes fail readiness unless healthy
	required bool
	check    func(context.Context) string
}

func (s *Server) probes() []probe {
	return []probe{
		{name: "database", required: true, check: func(ctx context.Context) string {
			sqlDB, err := s.db.DB()
			if err != nil || sqlDB.PingContext(ctx) != nil {
				return probeUnhealthy
			}
			return probeHealthy
		}},
		// Redis carries change events between processes.
		{name: "redis", required: true, check: func(ctx context.Context) string {
			if s.redis == nil {
				return probeUnavailable
			}
			if s.redis.Ping(ctx).Err() != nil {
				return probeUnhealthy
			}
			return probeHealthy
		}},
	}
}

// LivenessCheck answers while the process is serving requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "up", "time": time.Now().UTC()})
}

// ReadinessCheck reports 503 until the remote store and Redis both answer.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := fiber.Map{}
	ready := true
	for _, p := range s.probes() {
		st := p.check(ctx)
		checks[p.name] = st
		if p.required && st != probeHealthy {
			ready = false
		}
	}

	status, overall := fiber.StatusOK, probeHealthy
	if !ready {
		status, overall = fiber.StatusServiceUnavailable, probeUnhealthy
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"checks":   checks,
		"sessions": s.sessions.Len(),
		"sockets":  s.hub.Total(),
		"time":     time.Now().UTC(),
	})
}
