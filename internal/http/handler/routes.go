package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stackinit/internal/supervisor"
)

// StatusProvider exposes supervised process state to the admin plane.
type StatusProvider interface {
	Snapshot() []supervisor.ProgramStatus
	Healthy() bool
}

// RegisterRoutes attaches the admin-plane routes: liveness, aggregate health,
// full status, and metrics. db may be nil when the sqlite fallback is in use;
// the health check then skips the database ping.
func RegisterRoutes(app *fiber.App, sup StatusProvider, db *sql.DB, gatherer prometheus.Gatherer) {
	// Liveness: the entrypoint itself is up.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Aggregate health: every supervised child running and the database
	// reachable. This is what the healthcheck binary probes.
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		for _, st := range sup.Snapshot() {
			entry := fiber.Map{
				"status":   string(st.Status),
				"restarts": st.Restarts,
			}
			if st.PID != 0 {
				entry["pid"] = st.PID
			}
			services[st.Name] = entry
		}

		healthy := sup.Healthy()
		if healthy && db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				healthy = false
			}
		}

		status := "healthy"
		code := fiber.StatusOK
		if !healthy {
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":   status,
			"services": services,
		})
	})

	// Full supervisor snapshot for operators.
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"programs": sup.Snapshot()})
	})

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
