package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/observability"
)

// CompassPrefix is the route prefix of the assessment API.
const CompassPrefix = "/api/v2/compass"

// slowRequest marks assessment requests worth a warning even when they succeed.
const slowRequest = 500 * time.Millisecond

// Observability records Prometheus metrics and one structured log line per assessment request.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), CompassPrefix) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		method := c.Method()
		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}
		code := strconv.Itoa(status)

		observability.CompassRequests().WithLabelValues(method, route, code).Inc()
		observability.CompassLatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.CompassErrors().WithLabelValues(method, route, code).Inc()
		}

		var event *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error().Err(err)
		case status >= fiber.StatusBadRequest, elapsed > slowRequest:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("route", route).
			Str("method", method).
			Int("status", status).
			Dur("latency", elapsed).
			Uint("user_id", userID(c)).
			Msg("assessment request")

		return err
	}
}

func userID(c *fiber.Ctx) uint {
	id, _ := c.Locals("user_id").(uint)
	return id
}
