package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/reelforge/api/internal/middleware"
	"github.com/reelforge/api/internal/service"
	ws "github.com/reelforge/api/internal/websocket"
	"github.com/reelforge/api/pkg/response"
)

// RequireUpgrade rejects plain HTTP requests on WebSocket routes
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// RequireJobAccess lets the caller subscribe only to jobs they can read over the REST API
func RequireJobAccess(svc *service.VideoService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := svc.CheckAccess(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
		if err == nil {
			return c.Next()
		}
		if service.IsNotFound(err) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}
}

// JobStream handles GET /ws/jobs/:jobId
func JobStream(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	})
}
