package controllers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBrandt/PicSmith/internal/pkg/cache"
	"github.com/LukasBrandt/PicSmith/internal/pkg/generation"
)

// entitlementCacheTTL bounds how stale a cached entitlement can get; webhook
// ingestion deletes the key eagerly on membership changes.
const entitlementCacheTTL = 60 * time.Second

// HandleGenerate runs one AI image edit for the authenticated user. The image
// arrives as a multipart file under "image", the editing instructions as the
// "instructions" form field.
func HandleGenerate(c *fiber.Ctx) error {
	userID := ExtractUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing user identity"})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "An image file is required"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not read the uploaded image"})
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not read the uploaded image"})
	}

	res, err := services.Generation.Generate(c.UserContext(), generation.Request{
		ExternalUserID: userID,
		Filename:       fileHeader.Filename,
		Instructions:   c.FormValue("instructions"),
		Image:          data,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"request_id": res.RequestID,
		"image":      base64.StdEncoding.EncodeToString(res.Image),
		"mime_type":  res.MimeType,
		"tier":       res.Tier,
		"quota": fiber.Map{
			"usage_count":       res.UsageCount,
			"pool_limit":        res.PoolLimit,
			"remaining":         res.Remaining,
			"overage":           res.Overage,
			"integrity_warning": res.IntegrityWarning,
		},
	})
}

// HandleGetEntitlement reports the caller's current tier and quota state
// without charging anything.
func HandleGetEntitlement(c *fiber.Ctx) error {
	userID := ExtractUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing user identity"})
	}

	cacheKey := "entitlement:" + userID
	if raw, err := cache.Get(cacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(raw)
	} else if !cache.IsMiss(err) {
		log.Printf("entitlement cache read for %s failed: %v", userID, err)
	}

	res, err := services.Resolver.Resolve(c.UserContext(), userID)
	if err != nil {
		return errorResponse(c, err)
	}

	body := fiber.Map{
		"has_access":  res.HasAccess,
		"tier":        res.Tier,
		"pool_limit":  res.PoolLimit,
		"usage_count": res.UsageCount,
		"remaining":   res.Remaining,
	}
	if res.Subscriber != nil {
		body["reset_date"] = res.Subscriber.ResetDate.UTC().Format("2006-01-02")
		body["overage_units"] = res.Subscriber.OverageUsed
		body["overage_cents"] = res.Subscriber.OverageCentsAccrued
		body["last_billing_date"] = formatTimePtr(res.Subscriber.LastBillingDate)
	}

	if raw, jerr := json.Marshal(body); jerr == nil {
		if cerr := cache.Set(cacheKey, string(raw), entitlementCacheTTL); cerr != nil {
			log.Printf("entitlement cache write for %s failed: %v", userID, cerr)
		}
	}
	return c.JSON(body)
}
