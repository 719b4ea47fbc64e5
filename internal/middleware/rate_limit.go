package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-compass/internal/utils"
)

// AssessmentRateLimit throttles assessment writes per assessor and route
// parameter, so one tutor hammering a submission does not starve the others.
func AssessmentRateLimit(param string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			actor := fmt.Sprintf("%v", c.Locals("user_id"))
			if actor == "" || actor == "0" || actor == "<nil>" {
				actor = c.IP()
			}
			return fmt.Sprintf("assess:%s:%s", actor, c.Params(param))
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many assessment requests")
		},
	})
}
