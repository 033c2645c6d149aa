package router

import (
	"github.com/LukasBrandt/PicSmith/app/controllers"
	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
	"github.com/LukasBrandt/PicSmith/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: env.GetEnvInt("API_RATE_LIMIT", 60),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1", middleware.RequireUser)
	v1.Post("/generate", controllers.HandleGenerate)
	v1.Get("/entitlement", controllers.HandleGetEntitlement)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
