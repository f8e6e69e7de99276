package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/internal/storage"
	"github.com/makeastory/api/internal/store"
	"github.com/makeastory/api/pkg/response"
)

// writeError maps a service error onto the response envelope.
func writeError(c *fiber.Ctx, err error) error {
	var perr *client.Error
	switch {
	case errors.Is(err, service.ErrBatchNotFound), errors.Is(err, scheduler.ErrBeatNotFound),
		errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, pipeline.ErrBeatBusy):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, pipeline.ErrStageBlocked),
		errors.Is(err, pipeline.ErrUnknownStage):
		return response.ValidationError(c, err.Error(), nil)
	case errors.As(err, &perr):
		return response.ProviderError(c, err)
	default:
		return response.ServiceError(c, err.Error())
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
