package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/database"
	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its health
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports liveness and dependency health
type HealthHandler struct {
	store  database.Storage
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler. checks are pinged alongside the database.
func NewHealthHandler(store database.Storage, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{store: store, checks: checks}
}

// HandlePing handles GET /ping
func (h *HealthHandler) HandlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleCheckHealth handles GET /health
func (h *HealthHandler) HandleCheckHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	pingers := map[string]Pinger{"database": PingFunc(h.store.HealthCheck)}
	for name, check := range h.checks {
		if check != nil {
			pingers[name] = check
		}
	}

	names := make([]string, 0, len(pingers))
	for name := range pingers {
		names = append(names, name)
	}

	// Pings never fail the group; each result lands in its own slot
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, check := i, pingers[name]
		g.Go(func() error {
			errs[i] = check.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	results := make(map[string]string, len(names))
	for i, name := range names {
		if errs[i] != nil {
			healthy = false
			results[name] = errs[i].Error()
			continue
		}
		results[name] = "ok"
	}

	status := fiber.StatusOK
	overall := "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "checks": results})
}
