package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"socialsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func sign(t *testing.T, secret string, claims jwt.Claims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func authApp(t *testing.T) *fiber.App {
	t.Helper()
	auth := NewAuthenticator(testSecret)
	app := fiber.New()
	app.Get("/me", auth.Required, func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	app.Get("/ws", auth.WebSocket, func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, header string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestAuthenticatorRequired(t *testing.T) {
	app := authApp(t)
	uid := uuid.NewString()
	valid, err := IssueToken(testSecret, uid, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, uid, -time.Hour)
	require.NoError(t, err)
	foreign, err := IssueToken("some-other-secret-0123456789abcdef0123", uid, time.Hour)
	require.NoError(t, err)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"missing header":  "",
		"basic scheme":    "Basic dXNlcjpwYXNz",
		"empty bearer":    "Bearer ",
		"garbage":         "Bearer not.a.token",
		"expired":         "Bearer " + expired,
		"wrong key":       "Bearer " + foreign,
		"numeric subject": "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{Subject: "123", ExpiresAt: future}, jwt.SigningMethodHS256),
		"no expiry":       "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{Subject: uid}, jwt.SigningMethodHS256),
		"other hmac alg":  "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{Subject: uid, ExpiresAt: future}, jwt.SigningMethodHS512),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := call(t, app, "/me", header)
			assert.Equal(t, http.StatusUnauthorized, status)
			var e models.ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &e))
			assert.Equal(t, models.CodeUnauthorized, e.Code)
		})
	}

	status, body := call(t, app, "/me", "Bearer "+valid)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, uid, body)
}

func TestAuthenticatorWebSocket(t *testing.T) {
	app := authApp(t)
	uid := uuid.NewString()
	valid, err := IssueToken(testSecret, uid, time.Hour)
	require.NoError(t, err)

	status, body := call(t, app, "/ws?token="+valid, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, uid, body)

	status, body = call(t, app, "/ws", "Bearer "+valid)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, uid, body)

	status, _ = call(t, app, "/ws", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, "/ws?token=invalid", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestParseToken(t *testing.T) {
	id := uuid.NewString()
	tok, err := IssueToken(testSecret, id, time.Minute)
	require.NoError(t, err)

	got, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseToken("wrong", tok)
	assert.ErrorIs(t, err, errBadToken)
}
