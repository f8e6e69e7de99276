package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/pkg/response"
)

type StoryHandler struct {
	service   *service.StoryService
	batches   *service.BatchService
	validator *validator.Validate
	maxUpload int64
}

func NewStoryHandler(svc *service.StoryService, batches *service.BatchService, v *validator.Validate, maxUpload int64) *StoryHandler {
	return &StoryHandler{
		service:   svc,
		batches:   batches,
		validator: v,
		maxUpload: maxUpload,
	}
}

// Structure handles POST /api/stories/structure
func (h *StoryHandler) Structure(c *fiber.Ctx) error {
	var req model.StructureRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.GenerateStructure(c.Context(), &req)
	if err != nil {
		return response.AIError(c, err.Error(), nil)
	}

	return response.OK(c, result)
}

// Character handles POST /api/stories/character
func (h *StoryHandler) Character(c *fiber.Ctx) error {
	file, err := c.FormFile("photo")
	if err != nil {
		return response.ValidationError(c, "Photo is required", nil)
	}

	photo, err := readImage(file, h.maxUpload)
	if err != nil {
		return response.ValidationError(c, err.Error(), map[string]interface{}{
			"filename": file.Filename,
		})
	}

	description := c.FormValue("description")
	if len(description) > 1000 {
		return response.ValidationError(c, "Description must be at most 1000 characters", nil)
	}

	result, err := h.service.CreateCharacter(c.Context(), photo, description)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// Style handles POST /api/stories/style
func (h *StoryHandler) Style(c *fiber.Ctx) error {
	var req model.StyleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.DescribeStyle(c.Context(), &req)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// Generate handles POST /api/stories/generate
func (h *StoryHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.batches.Start(c.Context(), &req)
	if err != nil {
		return writeError(c, err)
	}

	return response.Accepted(c, result)
}

// imageExtensions are the upload types accepted for photos and stills.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// readImage loads an uploaded image into memory.
func readImage(file *multipart.FileHeader, maxSize int64) (client.Media, error) {
	if maxSize > 0 && file.Size > maxSize {
		return client.Media{}, fmt.Errorf("file size exceeds %d bytes", maxSize)
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(file.Filename))] {
		return client.Media{}, fmt.Errorf("invalid file type: %s. Supported: PNG, JPG, JPEG, WEBP", file.Filename)
	}

	f, err := file.Open()
	if err != nil {
		return client.Media{}, fmt.Errorf("failed to open %s", file.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return client.Media{}, fmt.Errorf("failed to read %s", file.Filename)
	}
	return client.MediaFromBytes(data, client.MIMETypeForPath(file.Filename)), nil
}
