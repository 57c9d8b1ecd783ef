package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"stackinit/internal/logx"
)

// Logger logs each admin-plane request as one JSON line: request_id, method,
// path, status, and latency in milliseconds.
func Logger() fiber.Handler {
	log := logx.New("http")

	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		log.Info("request", map[string]any{
			"request_id": rid,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"latency":    float64(time.Since(start).Milliseconds()),
		})

		return err
	}
}
