package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-compass/internal/config"
	"github.com/noah-isme/gema-compass/internal/handler"
	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	CompassHandler  *handler.CompassHandler
	ConflictHandler *handler.ConflictHandler
	ActivityHandler *handler.ActivityHandler
	Engines         handler.EngineCounter
	JWTMiddleware   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Engines))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	compass := app.Group(middleware.CompassPrefix, jwtMiddleware)
	if deps.CompassHandler != nil {
		deps.CompassHandler.Register(compass)
	}
	if deps.ConflictHandler != nil {
		deps.ConflictHandler.Register(compass)
	}
	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(compass)
	}
}
