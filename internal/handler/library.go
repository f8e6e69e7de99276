package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/pkg/response"
)

type LibraryHandler struct {
	service   *service.LibraryService
	validator *validator.Validate
}

func NewLibraryHandler(svc *service.LibraryService, v *validator.Validate) *LibraryHandler {
	return &LibraryHandler{
		service:   svc,
		validator: v,
	}
}

// Save handles POST /api/library
func (h *LibraryHandler) Save(c *fiber.Ctx) error {
	var req model.SaveStoryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Save(c.Context(), &req.Story)
	if err != nil {
		return writeError(c, err)
	}

	return response.Created(c, result)
}

// List handles GET /api/library
func (h *LibraryHandler) List(c *fiber.Ctx) error {
	stories, err := h.service.List(c.Context())
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, fiber.Map{"stories": stories})
}

// Get handles GET /api/library/:storyId
func (h *LibraryHandler) Get(c *fiber.Ctx) error {
	story, view, err := h.service.Get(c.Context(), c.Params("storyId"))
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, fiber.Map{"story": story, "view": view})
}

// Delete handles DELETE /api/library/:storyId
func (h *LibraryHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("storyId")); err != nil {
		return writeError(c, err)
	}

	return response.NoContent(c)
}
