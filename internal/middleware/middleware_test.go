package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/auth"
)

func whoami(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"userId": GetUserID(c), "email": GetUserEmail(c)})
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewHMACVerifier("secret")
	token, err := verifier.Issue("user-1", "u@example.com", time.Hour)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/me", NewAuthMiddleware(verifier).Authenticate(), whoami)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"bad token", "Bearer nope", fiber.StatusUnauthorized},
		{"valid token", "Bearer " + token, fiber.StatusOK},
		{"lowercase scheme", "bearer " + token, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAuthenticate_QueryTokenOnlyForUpgrades(t *testing.T) {
	verifier := auth.NewHMACVerifier("secret")
	token, err := verifier.Issue("user-1", "", time.Hour)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", NewAuthMiddleware(verifier).Authenticate(), whoami)

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "plain requests must use the header")

	req = httptest.NewRequest("GET", "/ws?token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/ws?token=forged", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticate_NoVerifier(t *testing.T) {
	app := fiber.New()
	app.Get("/me", NewAuthMiddleware(nil).Authenticate(), whoami)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/me", GatewayAuth(), func(c *fiber.Ctx) error {
		id := GetIdentity(c)
		return c.JSON(fiber.Map{"userId": id.UserID, "roles": id.Roles})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-User-Id", "gw-user")
	req.Header.Set("X-User-Roles", "admin, editor")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New()
	app.Post("/videos", GatewayAuth(), NewRateLimiter(rdb).VideoLimit(2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(user string) (int, string) {
		req := httptest.NewRequest("POST", "/videos", nil)
		req.Header.Set("X-User-Id", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header.Get("X-RateLimit-Remaining")
	}

	status, remaining := send("alice")
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "1", remaining)

	status, remaining = send("alice")
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "0", remaining)

	status, _ = send("alice")
	assert.Equal(t, fiber.StatusTooManyRequests, status)

	status, _ = send("bob")
	assert.Equal(t, fiber.StatusAccepted, status, "limits are per user")

	mr.FastForward(time.Hour + time.Second)
	status, _ = send("alice")
	assert.Equal(t, fiber.StatusAccepted, status, "window resets")
}
