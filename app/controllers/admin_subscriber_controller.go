package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// recentLogLimit caps the audit entries returned on the detail view; the full
// trail stays in the database.
const recentLogLimit = 50

// HandleAdminSubscriberDetail returns one subscriber's ledger row together
// with the mirrored memberships, payment records and recent audit entries.
func HandleAdminSubscriberDetail(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid subscriber id"})
	}

	sub, err := services.Repos.Subscriber.GetByID(uint(id))
	if err != nil {
		return errorResponse(c, err)
	}

	memberships, err := services.Repos.Membership.ListBySubscriber(sub.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	payments, err := services.Repos.Payment.ListBySubscriber(sub.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	recent, err := services.Repos.TransactionLog.ListBySubscriber(sub.ID, recentLogLimit)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"subscriber":  sub,
		"memberships": memberships,
		"payments":    payments,
		"recent_log":  recent,
	})
}
