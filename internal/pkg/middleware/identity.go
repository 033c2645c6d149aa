package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserIDLocal is the Locals key the identity middleware fills.
const UserIDLocal = "external_user_id"

// RequireUser ensures the request carries the verified platform identity the
// auth proxy forwards, and returns JSON 401 otherwise. Handlers read the id
// from Locals.
func RequireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get("X-User-Id"))
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Missing user identity",
		})
	}
	c.Locals(UserIDLocal, userID)
	return c.Next()
}
