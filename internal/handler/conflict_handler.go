package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/service"
	"github.com/noah-isme/gema-compass/internal/utils"
)

// ConflictHandler manages assessment conflicts.
type ConflictHandler struct {
	service service.ConflictService
	logger  zerolog.Logger
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(service service.ConflictService, logger zerolog.Logger) *ConflictHandler {
	return &ConflictHandler{
		service: service,
		logger:  logger.With().Str("component", "conflict_handler").Logger(),
	}
}

// Register attaches conflict routes to the router group.
func (h *ConflictHandler) Register(router fiber.Router) {
	assessor := middleware.RequireAssessor()

	router.Get("/exercises/:exerciseId/conflicts", assessor, h.list)
	router.Post("/conflicts/:id/escalate", assessor, h.escalate)
	router.Post("/conflicts/:id/resolve", assessor, h.resolve)
}

func (h *ConflictHandler) list(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	conflicts, err := h.service.List(c.UserContext(), exerciseID, strings.ToLower(strings.TrimSpace(c.Query("state"))))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "conflicts retrieved", conflicts)
}

func (h *ConflictHandler) escalate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conflict id")
	}

	conflict, err := h.service.Escalate(c.UserContext(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "conflict escalated", conflict)
}

func (h *ConflictHandler) resolve(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conflict id")
	}

	conflict, err := h.service.Resolve(c.UserContext(), id, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "conflict resolved", conflict)
}

func (h *ConflictHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrConflictNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "conflict not found")
	case errors.Is(err, service.ErrInvalidConflictState):
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conflict state")
	case errors.Is(err, service.ErrConflictTransition):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	default:
		logger := requestLogger(h.logger, c)
		logger.Error().Err(err).Msg("conflict request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
