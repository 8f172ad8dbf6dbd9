package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// LoggerMiddleware logs HTTP requests and responses. Health probes are
// skipped to keep the log readable under frequent checks.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/health" || path == "/ready" {
			return c.Next()
		}

		start := time.Now()

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		log.Printf("[%s] %s - Completed in %v with status %d",
			c.Method(),
			path,
			latency,
			status,
		)

		return err
	}
}
