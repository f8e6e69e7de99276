package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// Get handles GET /api/batches/:batchId
func (h *BatchHandler) Get(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	result, err := h.service.Get(c.Context(), batchID)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/batches/:batchId/beats/:index/retry
func (h *BatchHandler) Retry(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		return response.ValidationError(c, "Beat index must be a non-negative integer", nil)
	}

	var req model.RetryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	beat, err := h.service.Retry(c.Context(), batchID, index, &req)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, beat)
}

// Narration handles POST /api/batches/:batchId/narration
func (h *BatchHandler) Narration(c *fiber.Ctx) error {
	var req model.NarrationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Narrate(c.Context(), c.Params("batchId"), &req)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}
