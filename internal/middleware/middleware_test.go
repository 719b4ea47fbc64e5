package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func newProtectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTProtected("secret"), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": c.Locals("user_id"), "role": c.Locals("user_role")})
	})
	return app
}

func TestJWTProtectedAcceptsValidToken(t *testing.T) {
	app := newProtectedApp()
	token := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub":   "42",
		"roles": []interface{}{" Tutor "},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := newProtectedApp()
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong secret":   "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": 1}),
		"wrong method":   "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte("secret"), jwt.MapClaims{"sub": 1}),
		"expired":        "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": 1, "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"role": "tutor"}),
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func roleApp(role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Use(RequireAssessor())
	app.Get("/assess", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireAssessorRoles(t *testing.T) {
	cases := map[string]int{
		"teacher": fiber.StatusOK,
		"TUTOR":   fiber.StatusOK,
		"admin":   fiber.StatusOK,
		"student": fiber.StatusForbidden,
		"":        fiber.StatusForbidden,
	}

	for role, status := range cases {
		resp, err := roleApp(role).Test(httptest.NewRequest(http.MethodGet, "/assess", nil))
		require.NoError(t, err)
		require.Equal(t, status, resp.StatusCode, "role %q", role)
	}
}

func TestAssessmentRateLimitIsPerSubmission(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(3))
		return c.Next()
	})
	app.Post("/submissions/:id/assessment", AssessmentRateLimit("id", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	do := func(path string) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusOK, do("/submissions/1/assessment"))
	require.Equal(t, fiber.StatusTooManyRequests, do("/submissions/1/assessment"))
	require.Equal(t, fiber.StatusOK, do("/submissions/2/assessment"))
}

func TestCorrelationIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get(HeaderCorrelationID))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get(HeaderCorrelationID))
}
