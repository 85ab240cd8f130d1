package main

import (
	"fmt"
	"log"

	"github.com/keygate-io/keygate/app/repository"
	"github.com/keygate-io/keygate/internal/pkg/billing"
	"github.com/keygate-io/keygate/internal/pkg/cache"
	"github.com/keygate-io/keygate/internal/pkg/database"
	"github.com/keygate-io/keygate/internal/pkg/env"
	"github.com/keygate-io/keygate/internal/pkg/jobqueue"
	"github.com/keygate-io/keygate/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	app := NewApplication()

	// Background workers: outbound mail delivery and usage counter flush.
	manager := jobqueue.GetManager()
	manager.Start()
	defer manager.Stop()
	billing.SetDefaultMailer(jobqueue.NewQueuedMailer())

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName: "KeyGate",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
