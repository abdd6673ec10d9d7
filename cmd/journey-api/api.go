// Package main provides the Journey API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	dispatcher *dispatcher.Dispatcher,
	registry *registry.Registry,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		dispatcher:  dispatcher,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.dispatcher, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Journey API")
	})

	v1 := app.Group("/v1")
	v1.Post("/events", handlers.IngestEvent)

	automations := v1.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.CreateAutomation)
	automations.Get("/:id", handlers.GetAutomation)
	automations.Patch("/:id", handlers.UpdateAutomation)
	automations.Post("/:id/activate", handlers.ActivateAutomation)
	automations.Post("/:id/deactivate", handlers.DeactivateAutomation)
	automations.Get("/:id/runs", handlers.GetAutomationRuns)

	runs := v1.Group("/runs")
	runs.Get("/:id", handlers.GetRun)
	runs.Get("/:id/log", handlers.GetRunLog)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
