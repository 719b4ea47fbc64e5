package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-compass/internal/config"
	"github.com/noah-isme/gema-compass/internal/utils"
)

// EngineCounter reports how many calculation engines are resident.
type EngineCounter interface {
	ActiveEngines() int
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	ActiveEngines int       `json:"active_engines"`
}

// HealthCheck returns a handler that reports application health information. engines may be nil.
func HealthCheck(cfg config.Config, engines EngineCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if engines != nil {
			payload.ActiveEngines = engines.ActiveEngines()
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
