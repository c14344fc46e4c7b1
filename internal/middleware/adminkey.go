package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

// AdminKeyMiddleware guards mutating dashboard routes with a shared key.
// The client sends the key in the X-Admin-Key header. An empty configured
// key disables the check, which is the default for local development.
func AdminKeyMiddleware(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminKey == "" {
			return c.Next()
		}

		provided := c.Get("X-Admin-Key")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing admin key. Include X-Admin-Key header.",
			})
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
			log.Printf("❌ [ADMIN-AUTH] Invalid admin key attempt from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid admin key",
			})
		}

		c.Locals("auth_type", "admin_key")
		return c.Next()
	}
}
