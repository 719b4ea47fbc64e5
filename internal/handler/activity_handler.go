package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/dto"
	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/service"
	"github.com/noah-isme/gema-compass/internal/utils"
)

// ActivityHandler exposes the assessment audit trail.
type ActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewActivityHandler constructs the handler.
func NewActivityHandler(service service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register attaches activity routes to the router group.
func (h *ActivityHandler) Register(router fiber.Router) {
	router.Get("/exercises/:exerciseId/activity", middleware.RequireAssessor(), h.list)
}

func (h *ActivityHandler) list(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	if page <= 0 {
		page = 1
	}

	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}
	if pageSize <= 0 {
		pageSize = 25
	} else if pageSize > 200 {
		pageSize = 200
	}

	response, err := h.service.List(c.UserContext(), dto.ActivityListRequest{
		ExerciseID: exerciseID,
		Page:       page,
		PageSize:   pageSize,
		Action:     c.Query("action"),
	})
	if err != nil {
		if handled, sendErr := sendValidationError(c, err); handled {
			return sendErr
		}
		logger := requestLogger(h.logger, c)
		logger.Error().Err(err).Msg("failed to list activity")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list activity")
	}

	return utils.SendSuccess(c, "activity retrieved", response)
}
