package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/e-fakture/sefsync/app/repository"
	"github.com/e-fakture/sefsync/internal/pkg/cache"
	"github.com/e-fakture/sefsync/internal/pkg/database"
	"github.com/e-fakture/sefsync/internal/pkg/env"
	"github.com/e-fakture/sefsync/internal/pkg/reconcile"
	"github.com/e-fakture/sefsync/internal/pkg/router"
)

func main() {
	app := NewApplication()

	reconciler := reconcile.NewReconcilerFromDB(database.GetDB(), cache.GetClient())
	reconciler.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	reconciler.Stop()
	if err := app.Shutdown(); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "sefsync",
		BodyLimit: 10 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get("/healthz", handleHealthz)

	// ROUTER
	router.InstallRouter(app)

	return app
}

// handleHealthz reports DB and cache reachability.
func handleHealthz(c *fiber.Ctx) error {
	status := fiber.StatusOK
	dbOK := false
	if db := database.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil && sqlDB.Ping() == nil {
			dbOK = true
		}
	}
	cacheOK := cache.GetClient().Ping(c.Context()).Err() == nil

	if !dbOK || !cacheOK {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"db":    dbOK,
		"cache": cacheOK,
	})
}
