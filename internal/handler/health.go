package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/pkg/response"
)

// Configurable is any provider client that can report missing credentials.
type Configurable interface {
	IsConfigured() bool
}

type HealthHandler struct {
	providers map[string]Configurable
}

func NewHealthHandler(providers map[string]Configurable) *HealthHandler {
	return &HealthHandler{providers: providers}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := make(map[string]bool, len(h.providers))
	for name, p := range h.providers {
		status[name] = p != nil && p.IsConfigured()
	}
	return response.OK(c, model.HealthResponse{Status: "ok", Providers: status})
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"service":   "makeastory-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
