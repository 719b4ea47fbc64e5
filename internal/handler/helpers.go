package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/service"
	"github.com/noah-isme/gema-compass/internal/utils"
)

var errInvalidIdentifier = errors.New("invalid identifier")

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(key)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidIdentifier
	}
	return uint(parsed), nil
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func userIDFromContext(c *fiber.Ctx) uint {
	switch id := c.Locals("user_id").(type) {
	case uint:
		return id
	case int:
		if id > 0 {
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	role, _ := c.Locals("user_role").(string)
	return role
}

func activityActorFromContext(c *fiber.Ctx) service.ActivityActor {
	return service.ActivityActor{
		ID:   userIDFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) zerolog.Logger {
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		return base.With().Str("correlation_id", correlation).Logger()
	}
	return base
}

// validationDetails maps failed fields to the violated rule.
func validationDetails(err error) (map[string]string, bool) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil, false
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Namespace()] = fieldErr.Tag()
	}
	return details, true
}

func sendValidationError(c *fiber.Ctx, err error) (bool, error) {
	details, ok := validationDetails(err)
	if !ok {
		return false, nil
	}
	return true, utils.SendErrorWithDetails(c, fiber.StatusBadRequest, "validation failed", details)
}
