package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/LukasBrandt/PicSmith/internal/pkg/billing"
	"github.com/LukasBrandt/PicSmith/internal/pkg/entitlement"
	"github.com/LukasBrandt/PicSmith/internal/pkg/generation"
	"github.com/LukasBrandt/PicSmith/internal/pkg/ledger"
	"github.com/LukasBrandt/PicSmith/internal/pkg/middleware"
	"github.com/LukasBrandt/PicSmith/internal/pkg/upload"
)

// ExtractUserID gets the platform user id for the request: from Locals when
// the identity middleware ran, otherwise straight from the header the auth
// proxy forwards.
func ExtractUserID(c *fiber.Ctx) string {
	if v := c.Locals(middleware.UserIDLocal); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return strings.TrimSpace(c.Get("X-User-Id"))
}

// errorResponse maps service errors onto HTTP statuses and a stable JSON body.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_server_error"

	switch {
	case errors.Is(err, billing.ErrBadSignature):
		status, code = fiber.StatusUnauthorized, "bad_signature"
	case errors.Is(err, entitlement.ErrNoAccess):
		status, code = fiber.StatusForbidden, "no_access"
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, billing.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrTransientConflict):
		status, code = fiber.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrUpstreamUnavailable):
		status, code = fiber.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, generation.ErrProviderUnavailable):
		status, code = fiber.StatusBadGateway, "editing_backend_unavailable"
	case errors.Is(err, generation.ErrNoInstructions),
		errors.Is(err, generation.ErrEmptyImage),
		errors.Is(err, generation.ErrImageTooLarge),
		errors.Is(err, upload.ErrUnsupportedType):
		status, code = fiber.StatusBadRequest, "invalid_request"
	}

	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
