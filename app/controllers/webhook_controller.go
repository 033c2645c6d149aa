package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBrandt/PicSmith/internal/pkg/cache"
)

// HandleWhopWebhook ingests one commerce platform webhook delivery. Replayed
// deliveries are acknowledged without reapplying; unhandled event types are
// acknowledged so the platform does not retry them forever.
func HandleWhopWebhook(c *fiber.Ctx) error {
	res, err := services.Applier.Apply(c.UserContext(), c.Body(), c.Get("X-Whop-Signature"))
	if err != nil {
		return errorResponse(c, err)
	}

	// Membership changes invalidate the user's cached entitlement.
	if res.UserID != "" {
		if cerr := cache.Delete("entitlement:" + res.UserID); cerr != nil {
			log.Printf("entitlement cache invalidation for %s failed: %v", res.UserID, cerr)
		}
	}

	return c.JSON(fiber.Map{
		"accepted":  res.Accepted,
		"event":     res.Kind,
		"duplicate": res.Duplicate,
	})
}
