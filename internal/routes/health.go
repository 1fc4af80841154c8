package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// backlogReporter is implemented by queue backends that can count their messages.
type backlogReporter interface {
	Backlog(ctx context.Context) (ready, inFlight int64, err error)
}

// RegisterHealthRoutes adds /healthz (process liveness) and /readyz, which
// checks the ledger store and the cache that every balance read and transfer
// depends on.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		ready := true
		store := "in-memory"
		if d.DB != nil {
			store = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				store, ready = err.Error(), false
			}
		}
		cache := "ok"
		if err := d.Cache.Ping(ctx).Err(); err != nil {
			cache, ready = err.Error(), false
		}

		body := fiber.Map{
			"store":     store,
			"cache":     cache,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if q, ok := d.Queue.(backlogReporter); ok {
			if pending, held, err := q.Backlog(ctx); err == nil {
				body["queue"] = fiber.Map{"ready": pending, "inFlight": held}
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		body["ready"] = ready
		return c.Status(status).JSON(body)
	})
}
