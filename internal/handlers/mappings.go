package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"mockpit/internal/cache"
	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

// MappingsHandler serves the dashboard's mapping CRUD plus the cache-level
// operations (refresh, import, persist, reset, status).
type MappingsHandler struct {
	engine *cache.Engine
}

// NewMappingsHandler creates a new mappings handler
func NewMappingsHandler(engine *cache.Engine) *MappingsHandler {
	return &MappingsHandler{engine: engine}
}

// List returns the currently displayed mapping set.
func (h *MappingsHandler) List(c *fiber.Ctx) error {
	mappings := h.engine.GetAll()
	return c.JSON(fiber.Map{
		"mappings": mappings,
		"count":    len(mappings),
		"source":   h.engine.Source(),
	})
}

// Get returns one mapping by any of its alias ids.
func (h *MappingsHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	m, ok := h.engine.GetByID(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mapping not found",
		})
	}
	return c.JSON(m)
}

// Create registers a new mapping, applied optimistically.
func (h *MappingsHandler) Create(c *fiber.Ctx) error {
	var m models.Mapping
	if err := c.BodyParser(&m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid mapping payload",
		})
	}

	created, err := h.engine.ApplyMutation(c.Context(), &m, models.MutationCreate)
	if err != nil {
		return mutationError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// Update replaces or partially updates a mapping by id.
func (h *MappingsHandler) Update(c *fiber.Ctx) error {
	var m models.Mapping
	if err := c.BodyParser(&m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid mapping payload",
		})
	}
	if m.ID == "" {
		m.ID = c.Params("id")
	}

	updated, err := h.engine.ApplyMutation(c.Context(), &m, models.MutationUpdate)
	if err != nil {
		return mutationError(c, err)
	}
	return c.JSON(updated)
}

// Delete removes a mapping by id.
func (h *MappingsHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	m, ok := h.engine.GetByID(id)
	if !ok {
		// Deleting something already gone is fine from the dashboard's view.
		return c.SendStatus(fiber.StatusNoContent)
	}

	if _, err := h.engine.ApplyMutation(c.Context(), m, models.MutationDelete); err != nil {
		return mutationError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Import creates a batch of mappings; a mid-batch failure rolls back the
// already-created records and reports the failing index.
func (h *MappingsHandler) Import(c *fiber.Ctx) error {
	var body struct {
		Mappings []*models.Mapping `json:"mappings"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid import payload",
		})
	}
	if len(body.Mappings) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Import payload holds no mappings",
		})
	}

	created, err := h.engine.Import(c.Context(), body.Mappings)
	if err != nil {
		log.Printf("❌ [IMPORT] %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"imported": len(created),
		"mappings": created,
	})
}

// Refresh forces a fresh authoritative fetch and returns the reconciled set.
func (h *MappingsHandler) Refresh(c *fiber.Ctx) error {
	mappings, err := h.engine.Refresh(c.Context())
	if err != nil {
		// The current view is still served; the caller learns it is stale.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":    "Refresh failed, serving cached data",
			"mappings": mappings,
			"count":    len(mappings),
			"source":   h.engine.Source(),
		})
	}
	return c.JSON(fiber.Map{
		"mappings": mappings,
		"count":    len(mappings),
		"source":   h.engine.Source(),
	})
}

// Persist asks the mock server to save its mappings to its backing store.
func (h *MappingsHandler) Persist(c *fiber.Ctx) error {
	if err := h.engine.Persist(c.Context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Persist failed: " + err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "persisted"})
}

// Reset restores the mock server's default mapping set and rebuilds.
func (h *MappingsHandler) Reset(c *fiber.Ctx) error {
	if err := h.engine.ResetAll(c.Context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Reset failed: " + err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "reset",
		"count":  len(h.engine.GetAll()),
	})
}

// CacheStatus reports the sync engine state, including the cache-source
// indicator the frontend uses for its staleness banner.
func (h *MappingsHandler) CacheStatus(c *fiber.Ctx) error {
	return c.JSON(h.engine.Status())
}

func mutationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, cache.ErrNoIdentifier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Mapping has no usable identifier",
		})
	case errors.Is(err, cache.ErrReservedIdentifier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Identifier is reserved for internal use",
		})
	case errors.Is(err, mockserver.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mapping not found on the mock server",
		})
	default:
		var statusErr *mockserver.StatusError
		if errors.As(err, &statusErr) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Mock server rejected the change: " + statusErr.Error(),
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Mock server unreachable, change kept locally: " + err.Error(),
		})
	}
}
