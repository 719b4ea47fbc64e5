package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/config"
	"github.com/noah-isme/gema-compass/internal/database"
	"github.com/noah-isme/gema-compass/internal/handler"
	"github.com/noah-isme/gema-compass/internal/repository"
	"github.com/noah-isme/gema-compass/internal/router"
	"github.com/noah-isme/gema-compass/internal/service"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
}

// setupCompassApp wires the real services on an in-memory database. Requests carry
// their role in X-Test-Role and authenticate as user 1.
func setupCompassApp(t *testing.T) *fiber.App {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	conflictRepo := repository.NewConflictRepository(db)
	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)
	compassService := service.NewCompassService(
		repository.NewModelingSubmissionRepository(db),
		repository.NewModelingResultRepository(db),
		conflictRepo,
		service.NewCompassEventPublisher(nil, nil, "", logger),
		activityService,
		validate,
		service.CompassSettings{},
		logger,
	)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		CompassHandler:  handler.NewCompassHandler(compassService, 100, logger),
		ConflictHandler: handler.NewConflictHandler(service.NewConflictService(conflictRepo, activityService, logger), logger),
		ActivityHandler: handler.NewActivityHandler(activityService, logger),
		Engines:         compassService,
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", uint(1))
			if role := c.Get("X-Test-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return app
}

func classModel(names ...string) json.RawMessage {
	elements := make([]string, 0, len(names))
	for i, name := range names {
		elements = append(elements, fmt.Sprintf(`{"id": "c%d", "name": %q, "type": "Class"}`, i+1, name))
	}
	return json.RawMessage(fmt.Sprintf(`{"type": "ClassDiagram", "elements": [%s], "relationships": []}`, strings.Join(elements, ",")))
}

func doJSON(t *testing.T, app *fiber.App, method, path, role string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	return send(t, app, req)
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func submitModel(t *testing.T, app *fiber.App, exerciseID uint, names ...string) uint {
	t.Helper()
	status, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/exercises/%d/submissions", exerciseID), "", map[string]interface{}{
		"student_id": 7,
		"model":      classModel(names...),
	})
	require.Equal(t, fiber.StatusCreated, status, body.Message)

	var created struct {
		ID       uint `json:"id"`
		Elements int  `json:"elements"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.Equal(t, len(names), created.Elements)
	return created.ID
}

func TestCompassHandlerAssessmentFlow(t *testing.T) {
	app := setupCompassApp(t)

	first := submitModel(t, app, 1, "Customer", "Order")
	second := submitModel(t, app, 1, "Customer", "Order")

	status, body := doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/1/next-optimal", "tutor", nil)
	require.Equal(t, fiber.StatusOK, status)
	var next struct {
		SubmissionID uint `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &next))
	require.Equal(t, first, next.SubmissionID)

	status, body = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/submissions/%d/assessment", first), "tutor", map[string]interface{}{
		"feedback": []map[string]interface{}{
			{"element_id": "c1", "credits": 1},
			{"element_id": "c2", "credits": 1.5},
		},
	})
	require.Equal(t, fiber.StatusOK, status, body.Message)

	status, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v2/compass/submissions/%d/grade", second), "", nil)
	require.Equal(t, fiber.StatusOK, status)
	var grade struct {
		Score    float64 `json:"score"`
		Coverage float64 `json:"coverage"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &grade))
	require.Equal(t, 2.5, grade.Score)
	require.InDelta(t, 1.0, grade.Coverage, 1e-9)

	status, body = doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/1/statistics", "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	var stats struct {
		Submissions int `json:"submissions"`
		Assessed    int `json:"assessed"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	require.Equal(t, 2, stats.Submissions)
	require.Equal(t, 1, stats.Assessed)

	status, _ = doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/1/activity?page=1&page_size=10", "admin", nil)
	require.Equal(t, fiber.StatusOK, status)
}

func TestCompassHandlerRejectsStudentsOnAssessorRoutes(t *testing.T) {
	app := setupCompassApp(t)
	submissionID := submitModel(t, app, 1, "Customer")

	status, _ := doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/1/waiting-list", "student", nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/submissions/%d/assessment", submissionID), "student", map[string]interface{}{
		"feedback": []map[string]interface{}{{"element_id": "c1", "credits": 1}},
	})
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = doJSON(t, app, http.MethodDelete, "/api/v2/compass/exercises/1/engine", "", nil)
	require.Equal(t, fiber.StatusForbidden, status)
}

func TestCompassHandlerSubmissionValidation(t *testing.T) {
	app := setupCompassApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/compass/exercises/1/submissions", bytes.NewReader([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}))
	req.Header.Set("Content-Type", "application/json")
	status, _ := send(t, app, req)
	require.Equal(t, fiber.StatusUnsupportedMediaType, status)

	status, _ = doJSON(t, app, http.MethodPost, "/api/v2/compass/exercises/1/submissions", "", map[string]interface{}{
		"student_id": 7,
		"model":      json.RawMessage(`{"type": "SequenceDiagram", "elements": []}`),
	})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body := doJSON(t, app, http.MethodPost, "/api/v2/compass/exercises/1/submissions", "", map[string]interface{}{
		"model": classModel("Customer"),
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.NotEmpty(t, body.Details)

	status, _ = doJSON(t, app, http.MethodPost, "/api/v2/compass/exercises/abc/submissions", "", map[string]interface{}{
		"student_id": 7,
		"model":      classModel("Customer"),
	})
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestCompassHandlerSniffsLargeBodies(t *testing.T) {
	app := setupCompassApp(t)

	text := strings.Repeat("this is a plain text essay, not a diagram. ", 200)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/compass/exercises/1/submissions", strings.NewReader(text))
	req.Header.Set("Content-Type", "application/json")
	status, _ := send(t, app, req)
	require.Equal(t, fiber.StatusUnsupportedMediaType, status)

	names := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		names = append(names, fmt.Sprintf("Class%03d", i))
	}
	submitModel(t, app, 1, names...)
}

func TestCompassHandlerMultipartUpload(t *testing.T) {
	app := setupCompassApp(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("student_id", strconv.Itoa(9)))
	part, err := writer.CreateFormFile("model", "diagram.json")
	require.NoError(t, err)
	_, err = part.Write(classModel("Customer", "Order", "Invoice"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/compass/exercises/3/submissions", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	status, body := send(t, app, req)
	require.Equal(t, fiber.StatusCreated, status, body.Message)

	var created struct {
		StudentID uint `json:"student_id"`
		Elements  int  `json:"elements"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.Equal(t, uint(9), created.StudentID)
	require.Equal(t, 3, created.Elements)
}

func TestCompassHandlerWaitingListAndRelease(t *testing.T) {
	app := setupCompassApp(t)
	first := submitModel(t, app, 2, "Customer")
	submitModel(t, app, 2, "Order")

	status, _ := doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/2/next-optimal", "tutor", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/exercises/2/waiting-list/%d/release?requeue=maybe", first), "tutor", nil)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/exercises/2/waiting-list/%d/release?requeue=true", first), "tutor", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body := doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/2/waiting-list", "tutor", nil)
	require.Equal(t, fiber.StatusOK, status)
	var waiting struct {
		Submissions []uint `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &waiting))
	require.Contains(t, waiting.Submissions, first)

	status, body = doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/404/waiting-list", "tutor", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.JSONEq(t, `{"exercise_id": 404, "submissions": []}`, string(body.Data))

	status, body = doJSON(t, app, http.MethodGet, "/api/v2/compass/submissions/404/grade", "student", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Data), `"elements":[]`)

	status, body = doJSON(t, app, http.MethodDelete, "/api/v2/compass/exercises/2/engine", "admin", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Data), `"removed":true`)
}

func TestCompassHandlerConflictLifecycle(t *testing.T) {
	app := setupCompassApp(t)
	first := submitModel(t, app, 5, "Customer")
	second := submitModel(t, app, 5, "Customer")

	assess := func(id uint, credits float64) envelope {
		status, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v2/compass/submissions/%d/assessment", id), "tutor", map[string]interface{}{
			"feedback": []map[string]interface{}{{"element_id": "c1", "credits": credits}},
		})
		require.Equal(t, fiber.StatusOK, status, body.Message)
		return body
	}
	assess(first, 1)
	assess(second, 2)

	status, body := doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/5/conflicts?state=unhandled", "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	var conflicts []struct {
		ID    uint   `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &conflicts))
	require.Len(t, conflicts, 1)

	path := fmt.Sprintf("/api/v2/compass/conflicts/%d", conflicts[0].ID)
	status, _ = doJSON(t, app, http.MethodPost, path+"/escalate", "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	status, _ = doJSON(t, app, http.MethodPost, path+"/resolve", "teacher", nil)
	require.Equal(t, fiber.StatusOK, status)
	status, _ = doJSON(t, app, http.MethodPost, path+"/escalate", "teacher", nil)
	require.Equal(t, fiber.StatusConflict, status)

	status, _ = doJSON(t, app, http.MethodGet, "/api/v2/compass/exercises/5/conflicts?state=pending", "teacher", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doJSON(t, app, http.MethodPost, "/api/v2/compass/conflicts/999/resolve", "teacher", nil)
	require.Equal(t, fiber.StatusNotFound, status)
}

func TestHealthReportsEngines(t *testing.T) {
	app := setupCompassApp(t)
	submitModel(t, app, 1, "Customer")

	status, body := doJSON(t, app, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(body.Data), `"active_engines":1`)
}
