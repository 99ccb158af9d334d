package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/signcast/api/pkg/response"
)

// HealthCheck reports whether one collaborator is usable
type HealthCheck func(ctx context.Context) bool

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"status": "ok"})
}

// Health handles GET /health. It always answers 200; a failing
// collaborator turns the status to degraded.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	services := fiber.Map{}
	for name, check := range h.checks {
		ok := check(ctx)
		services[name] = ok
		if !ok {
			status = "degraded"
		}
	}

	return response.OK(c, fiber.Map{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().Unix(),
	})
}
