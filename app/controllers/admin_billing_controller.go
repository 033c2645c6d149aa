package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// HandleAdminGlobalReset sweeps every due subscriber onto the next calendar
// cycle. Running it repeatedly in the same cycle is safe.
func HandleAdminGlobalReset(c *fiber.Ctx) error {
	res, err := services.Scheduler.RunGlobalReset()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"reset_count":     res.ResetCount,
		"next_reset_date": res.NextResetDate.UTC().Format("2006-01-02"),
	})
}

// HandleAdminAnniversaryReset sweeps every due subscriber, advancing each row
// from its own anniversary date.
func HandleAdminAnniversaryReset(c *fiber.Ctx) error {
	res, err := services.Scheduler.RunAnniversaryReset()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"reset_count": res.ResetCount})
}

// HandleAdminOverageSummary reports the accrued overage across all
// subscribers.
func HandleAdminOverageSummary(c *fiber.Ctx) error {
	summary, err := services.Overage.Summary()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(summary)
}

// HandleAdminOverageMarkBilled settles one subscriber's accrued overage and
// returns the cleared amount.
func HandleAdminOverageMarkBilled(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid subscriber id"})
	}

	cents, err := services.Overage.MarkBilled(uint(id))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"subscriber_id": id,
		"billed_cents":  cents,
		"billed":        cents > 0,
	})
}

// HandleAdminOverageExportCSV streams the overage summary as CSV.
func HandleAdminOverageExportCSV(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="overage.csv"`)
	if err := services.Overage.ExportCSV(c.Response().BodyWriter()); err != nil {
		return errorResponse(c, err)
	}
	return nil
}
