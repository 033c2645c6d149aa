package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/LukasBrandt/PicSmith/internal/pkg/cache"
	"github.com/LukasBrandt/PicSmith/internal/pkg/database"
	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
	"github.com/LukasBrandt/PicSmith/internal/pkg/resetcycle"
	"github.com/LukasBrandt/PicSmith/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Safety net behind the lazy per-request reset.
	go resetcycle.NewSchedulerFromDB(database.GetDB()).
		Start(context.Background(), env.GetEnvDuration("RESET_SWEEP_INTERVAL", time.Hour))

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_BASIC_AUTH_USER", "admin"): env.GetEnv("ADMIN_BASIC_AUTH_PASSWORD", ""),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
