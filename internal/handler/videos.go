package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/pkg/response"
)

const maxVideoImages = 24

type VideosHandler struct {
	service   *service.BatchService
	maxUpload int64
}

func NewVideosHandler(svc *service.BatchService, maxUpload int64) *VideosHandler {
	return &VideosHandler{
		service:   svc,
		maxUpload: maxUpload,
	}
}

// Generate handles POST /api/videos/generate
//
// Form fields: files (one per beat), prompts (optional, matched by
// position), add_sound (default true), max_workers and output_prefix.
func (h *VideosHandler) Generate(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "No files uploaded", nil)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return response.ValidationError(c, "No files uploaded", nil)
	}
	if len(files) > maxVideoImages {
		return response.ValidationError(c, "Too many files", map[string]interface{}{
			"maxFiles": maxVideoImages,
			"files":    len(files),
		})
	}

	addSound := true
	if v := c.FormValue("add_sound"); v != "" {
		addSound = strings.EqualFold(v, "true")
	}

	maxWorkers := 0
	if v := c.FormValue("max_workers"); v != "" {
		maxWorkers, err = strconv.Atoi(v)
		if err != nil || maxWorkers < 1 || maxWorkers > 16 {
			return response.ValidationError(c, "max_workers must be between 1 and 16", nil)
		}
	}

	prompts := form.Value["prompts"]
	beats := make([]pipeline.BeatInput, len(files))
	for i, file := range files {
		image, err := readImage(file, h.maxUpload)
		if err != nil {
			return response.ValidationError(c, err.Error(), map[string]interface{}{
				"filename": file.Filename,
			})
		}
		beats[i].GeneratedImage = image.String()
		if i < len(prompts) {
			beats[i].PromptOverride = strings.TrimSpace(prompts[i])
		}
	}

	job := scheduler.BatchJob{
		Beats:      beats,
		Shared:     pipeline.Shared{Prefix: c.FormValue("output_prefix")},
		Plan:       pipeline.PlanFor([]model.Stage{model.StageVideo}, addSound),
		MaxWorkers: maxWorkers,
	}

	view, err := h.service.GenerateSync(c.Context(), job)
	if err != nil {
		return writeError(c, err)
	}

	result := view.Result
	if result == nil {
		return response.ServiceError(c, "Batch did not complete")
	}
	for i := range result.VideoResults {
		if idx := result.VideoResults[i].Index; result.VideoResults[i].ImageFilename == "" && idx < len(files) {
			result.VideoResults[i].ImageFilename = files[idx].Filename
		}
	}

	return response.OK(c, result)
}
