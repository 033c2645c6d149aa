package router

import (
	"github.com/LukasBrandt/PicSmith/app/controllers"
	"github.com/LukasBrandt/PicSmith/internal/pkg/database"
	"github.com/LukasBrandt/PicSmith/internal/pkg/env"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Wire the handler services against the shared database handle.
	controllers.SetupServices(database.GetDB())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhook ingestion authenticates via HMAC signature, not via the proxy
	// identity header, so it lives outside the /api group.
	app.Post("/webhook/whop", controllers.HandleWhopWebhook)

	h.registerAdminRoutes(app)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_BASIC_AUTH_USER", "admin"): env.GetEnv("ADMIN_BASIC_AUTH_PASSWORD", ""),
		},
	}))

	adminGroup.Get("/subscribers/:id", controllers.HandleAdminSubscriberDetail)
	adminGroup.Post("/reset/global", controllers.HandleAdminGlobalReset)
	adminGroup.Post("/reset/anniversary", controllers.HandleAdminAnniversaryReset)
	adminGroup.Get("/overage/summary", controllers.HandleAdminOverageSummary)
	adminGroup.Post("/overage/:id/billed", controllers.HandleAdminOverageMarkBilled)
	adminGroup.Get("/overage/export.csv", controllers.HandleAdminOverageExportCSV)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
