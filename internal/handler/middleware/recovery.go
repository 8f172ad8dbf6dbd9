package middleware

import (
	"log"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RecoveryMiddleware recovers from panics and returns a generic 500 in the
// broker's response envelope. Internal detail stays in the log.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()

				log.Printf("PANIC: %v\n%s", r, stack)

				err := c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success":   false,
					"error":     "internal error",
					"hint":      "internal",
					"timestamp": time.Now().UTC(),
				})
				if err != nil {
					log.Printf("Error sending panic response: %v", err)
				}
			}
		}()

		return c.Next()
	}
}
