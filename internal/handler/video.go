package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/reelforge/api/internal/middleware"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/service"
	"github.com/reelforge/api/pkg/response"
)

type VideoHandler struct {
	service   *service.VideoService
	validator *validator.Validate
}

func NewVideoHandler(svc *service.VideoService, v *validator.Validate) *VideoHandler {
	return &VideoHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/videos
// @Summary      Create video job
// @Description  Queue a new short-form video job
// @Tags         Videos
// @Accept       json
// @Produce      json
// @Param        request body model.VideoCreateRequest true "Video create request"
// @Success      202 {object} model.VideoCreateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos [post]
func (h *VideoHandler) Create(c *fiber.Ctx) error {
	var req model.VideoCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/videos/:jobId
// @Summary      Get video job
// @Description  Get the job record with its pipeline steps and assets
// @Tags         Videos
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.VideoDetailResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos/{jobId} [get]
func (h *VideoHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		if service.IsNotFound(err) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// List handles GET /api/videos
// @Summary      List video jobs
// @Description  List the caller's jobs, newest first
// @Tags         Videos
// @Produce      json
// @Param        status      query string false "Job status"
// @Param        contentType query string false "Content type"
// @Param        limit       query int    false "Page size (max 100)"
// @Param        offset      query int    false "Offset"
// @Success      200 {object} model.VideoListResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos [get]
func (h *VideoHandler) List(c *fiber.Ctx) error {
	var query model.VideoListQuery
	if err := c.QueryParser(&query); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&query); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.List(c.UserContext(), middleware.GetUserID(c), &query)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/videos/:jobId/cancel
// @Summary      Cancel video job
// @Description  Request cancellation; the worker stops at its next checkpoint
// @Tags         Videos
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      202 {object} model.VideoCancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos/{jobId}/cancel [post]
func (h *VideoHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		if service.IsNotFound(err) {
			return response.NotFound(c, "Job not found")
		}
		if service.IsConflict(err) {
			return response.Conflict(c, "Job already finished", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Regenerate handles POST /api/videos/:jobId/regenerate
// @Summary      Regenerate video
// @Description  Queue a new job with the same settings as an existing one
// @Tags         Videos
// @Produce      json
// @Param        jobId path string true "Source job ID"
// @Success      202 {object} model.VideoCreateResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos/{jobId}/regenerate [post]
func (h *VideoHandler) Regenerate(c *fiber.Ctx) error {
	result, err := h.service.Regenerate(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		if service.IsNotFound(err) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}
