package handler

import (
	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(
	app *fiber.App,
	brokerHandler *BrokerHandler,
	healthHandler *HealthHandler,
) {
	// Health checks (public)
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	// API v1
	api := app.Group("/api/v1")

	// Single action-dispatch entry point: every device and claim operation
	// arrives as {action, ...payload} on this route.
	api.Post("/devices/connection", brokerHandler.Dispatch)
}
