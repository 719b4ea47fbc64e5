package handler

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/dto"
	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/service"
	"github.com/noah-isme/gema-compass/internal/utils"
)

const maxModelSize = 4 << 20

var errModelNotJSON = errors.New("model must be a JSON document")

// CompassHandler exposes the semi-automatic assessment endpoints.
type CompassHandler struct {
	service     service.CompassService
	assessLimit int
	logger      zerolog.Logger
}

// NewCompassHandler builds a compass handler. assessLimit caps assessments per assessor and submission per minute.
func NewCompassHandler(service service.CompassService, assessLimit int, logger zerolog.Logger) *CompassHandler {
	return &CompassHandler{
		service:     service,
		assessLimit: assessLimit,
		logger:      logger.With().Str("component", "compass_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *CompassHandler) Register(router fiber.Router) {
	assessor := middleware.RequireAssessor()

	router.Post("/exercises/:exerciseId/submissions", h.addSubmission)
	router.Get("/submissions/:id/grade", h.grade)
	router.Post("/submissions/:id/assessment", assessor, middleware.AssessmentRateLimit("id", h.assessLimit, time.Minute), h.assess)

	router.Get("/exercises/:exerciseId/next-optimal", assessor, h.nextOptimal)
	router.Get("/exercises/:exerciseId/waiting-list", assessor, h.waitingList)
	router.Post("/exercises/:exerciseId/waiting-list/:submissionId/release", assessor, h.release)
	router.Get("/exercises/:exerciseId/statistics", assessor, h.statistics)
	router.Delete("/exercises/:exerciseId/engine", assessor, h.reset)
}

func (h *CompassHandler) addSubmission(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	payload, err := h.readSubmission(c)
	if err != nil {
		if errors.Is(err, errModelNotJSON) {
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
		}
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	payload.ExerciseID = exerciseID

	submission, err := h.service.AddSubmission(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission indexed", submission)
}

// readSubmission accepts either a JSON body or a multipart upload with a model file.
func (h *CompassHandler) readSubmission(c *fiber.Ctx) (dto.ModelingSubmissionCreateRequest, error) {
	var payload dto.ModelingSubmissionCreateRequest

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		studentID, err := strconv.ParseUint(strings.TrimSpace(c.FormValue("student_id")), 10, 64)
		if err != nil {
			return payload, errors.New("invalid student_id")
		}
		file, err := c.FormFile("model")
		if err != nil {
			return payload, errors.New("model file is required")
		}
		if file.Size > maxModelSize {
			return payload, errors.New("model file too large")
		}
		reader, err := file.Open()
		if err != nil {
			return payload, errors.New("unreadable model file")
		}
		defer reader.Close()

		data, err := io.ReadAll(io.LimitReader(reader, maxModelSize))
		if err != nil {
			return payload, errors.New("unreadable model file")
		}
		if !isJSONDocument(data) {
			return payload, errModelNotJSON
		}
		payload.StudentID = uint(studentID)
		payload.Model = json.RawMessage(data)
		return payload, nil
	}

	body := c.Body()
	if !isJSONDocument(body) {
		return payload, errModelNotJSON
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, errors.New("invalid request body")
	}
	if len(payload.Model) > 0 && !isJSONDocument(payload.Model) {
		return payload, errModelNotJSON
	}
	return payload, nil
}

// isJSONDocument sniffs the content. The detector reads only a prefix, so a large
// document reported as plain text is accepted only when it is valid JSON as a whole.
func isJSONDocument(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	detected := mimetype.Detect(data)
	for mime := detected; mime != nil; mime = mime.Parent() {
		if mime.Is("application/json") {
			return true
		}
	}
	return detected.Is("text/plain") && json.Valid(data)
}

func (h *CompassHandler) assess(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	var payload dto.AssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Assess(c.UserContext(), submissionID, payload, activityActorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assessment stored", result)
}

func (h *CompassHandler) grade(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	grade, err := h.service.Grade(c.UserContext(), submissionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade computed", grade)
}

func (h *CompassHandler) nextOptimal(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	next, err := h.service.NextOptimal(c.UserContext(), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "next submission selected", next)
}

func (h *CompassHandler) waitingList(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	list, err := h.service.WaitingList(c.UserContext(), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "waiting list retrieved", list)
}

func (h *CompassHandler) release(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}
	submissionID, err := parseUintParam(c, "submissionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	requeue := false
	if raw := strings.TrimSpace(c.Query("requeue")); raw != "" {
		requeue, err = strconv.ParseBool(raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid requeue flag")
		}
	}

	if err := h.service.Release(c.UserContext(), exerciseID, submissionID, requeue); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission released", fiber.Map{"submission_id": submissionID, "requeued": requeue})
}

func (h *CompassHandler) statistics(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	stats, err := h.service.Statistics(c.UserContext(), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "statistics computed", stats)
}

func (h *CompassHandler) reset(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exercise id")
	}

	removed := h.service.ResetExercise(c.UserContext(), exerciseID, activityActorFromContext(c))
	return utils.SendSuccess(c, "engine reset", fiber.Map{"exercise_id": exerciseID, "removed": removed})
}

func (h *CompassHandler) handleError(c *fiber.Ctx, err error) error {
	if handled, sendErr := sendValidationError(c, err); handled {
		return sendErr
	}

	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrExerciseNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "exercise has no submissions")
	case errors.Is(err, service.ErrSubmissionNotInExercise):
		return utils.SendError(c, fiber.StatusNotFound, "submission does not belong to exercise")
	case errors.Is(err, service.ErrNoSubmissionAvailable):
		return utils.SendError(c, fiber.StatusNotFound, "no submission left to assess")
	case errors.Is(err, service.ErrInvalidModel):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrAssessorRequired):
		return utils.SendError(c, fiber.StatusUnauthorized, "assessor identity required")
	default:
		logger := requestLogger(h.logger, c)
		logger.Error().Err(err).Str("path", c.Path()).Msg("compass request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
