package server

import (
	"socialsync/internal/featureflags"
	"socialsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type flagView struct {
	Name       string `json:"name"`
	Configured string `json:"configured,omitempty"`
	Default    bool   `json:"default"`
	Enabled    bool   `json:"enabled"`
}

// GetFeatureFlags reports every known or configured flag as evaluated for
// the caller, alongside the raw FEATURE_FLAGS values.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	raw := s.featureFlags.Raw()
	names := s.featureFlags.Names()

	views := make([]flagView, 0, len(names))
	for _, name := range names {
		views = append(views, flagView{
			Name:       name,
			Configured: raw[name],
			Default:    featureflags.Defaults[name],
			Enabled:    s.featureFlags.Enabled(name, uid),
		})
	}
	return c.JSON(fiber.Map{
		"flags":     views,
		"raw":       raw,
		"evaluated": s.featureFlags.Snapshot(uid),
	})
}
