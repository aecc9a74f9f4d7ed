package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/service"
	"github.com/reelforge/api/pkg/response"
)

type HealthHandler struct {
	redis     redis.UniversalClient
	service   *service.VideoService
	mode      string
	providers map[string]bool
}

// NewHealthHandler takes a snapshot of which providers are configured
func NewHealthHandler(redisClient redis.UniversalClient, svc *service.VideoService, mode string, providers map[string]bool) *HealthHandler {
	return &HealthHandler{redis: redisClient, service: svc, mode: mode, providers: providers}
}

// Check handles GET /health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} model.HealthResponse
// @Failure      503 {object} model.HealthResponse
// @Router       /health [get]
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx := c.UserContext()
	result := &model.HealthResponse{
		Status:    "ok",
		Mode:      h.mode,
		Redis:     h.redis.Ping(ctx).Err() == nil,
		Providers: h.providers,
	}

	if !result.Redis {
		result.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	}
	if active, err := h.service.ActiveJobs(ctx); err == nil {
		result.Active = active
	}
	return response.OK(c, result)
}
