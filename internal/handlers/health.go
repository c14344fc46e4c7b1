package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mockpit/internal/cache"
	"mockpit/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	engine      *cache.Engine
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, engine *cache.Engine) *HealthHandler {
	return &HealthHandler{connManager: connManager, engine: engine}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := h.engine.Status()
	return c.JSON(fiber.Map{
		"status":         "healthy",
		"connections":    h.connManager.Count(),
		"cache_source":   status.Source,
		"remote_healthy": status.RemoteHealthy,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}
