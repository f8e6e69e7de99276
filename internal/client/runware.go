package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/makeastory/api/internal/config"
)

const runwareProvider = "runware"

// RunwareClient talks to the Runware task API. Every request is a JSON
// array of tasks; pose preprocessing and image synthesis answer inline,
// video inference is delivered asynchronously and polled with getResponse.
type RunwareClient struct {
	http        *transport
	baseURL     string
	apiKey      string
	imageModel  string
	videoModel  string
	width       int
	height      int
	minDuration int
	maxDuration int
	poller      *Poller
}

// SynthesisRequest describes one image synthesis call. ReferenceImages are
// sent in the given order.
type SynthesisRequest struct {
	Prompt          string
	ReferenceImages []Media
	Width           int
	Height          int
}

// AnimationRequest describes one image-to-video call.
type AnimationRequest struct {
	Image           Media
	Prompt          string
	DurationSeconds int
	Width           int
	Height          int
	FPS             int
}

type runwareError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	TaskUUID string `json:"taskUUID"`
}

type runwareEnvelope struct {
	Data   []map[string]interface{} `json:"data"`
	Errors []runwareError           `json:"errors"`
}

// NewRunwareClient creates a new Runware API client
func NewRunwareClient(cfg *config.RunwareConfig, logger *slog.Logger) *RunwareClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxWait := cfg.PollTimeout
	if maxWait <= 0 {
		maxWait = 300 * time.Second
	}

	t := newTransport(runwareProvider, 120*time.Second, map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}, logger)

	return &RunwareClient{
		http:        t,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		imageModel:  cfg.ImageModel,
		videoModel:  cfg.VideoModel,
		width:       cfg.ImageWidth,
		height:      cfg.ImageHeight,
		minDuration: cfg.MinDuration,
		maxDuration: cfg.MaxDuration,
		poller: &Poller{
			Provider: runwareProvider,
			Clock:    SystemClock(),
			Interval: interval,
			MaxWait:  maxWait,
			Logger:   t.logger,
		},
	}
}

// WithClock replaces the clock used while polling video tasks.
func (c *RunwareClient) WithClock(clock Clock) *RunwareClient {
	c.poller.Clock = clock
	return c
}

// IsConfigured returns true if the client has valid configuration
func (c *RunwareClient) IsConfigured() bool {
	return c.apiKey != ""
}

// PreprocessPose extracts an openpose guide image from a captured photo.
func (c *RunwareClient) PreprocessPose(ctx context.Context, image Media) (*Result[Asset], error) {
	const op = "preprocess_pose"
	if image.IsZero() {
		return nil, validationError(runwareProvider, op, "input image is required")
	}

	taskUUID := uuid.NewString()
	task := map[string]interface{}{
		"taskType":                    "imageControlNetPreProcess",
		"taskUUID":                    taskUUID,
		"inputImage":                  image.WireValue(),
		"preProcessorType":            "openpose",
		"includeHandsAndFaceOpenPose": true,
		"outputType":                  "URL",
		"outputFormat":                "PNG",
		"includeCost":                 true,
	}

	item, err := c.runTask(ctx, op, taskUUID, task)
	if err != nil {
		return nil, err
	}
	return c.assetResult(item, op, taskUUID, poseFields, "guideImageUUID")
}

// SynthesizeImage renders one image from a prompt and ordered reference images.
func (c *RunwareClient) SynthesizeImage(ctx context.Context, req SynthesisRequest) (*Result[Asset], error) {
	const op = "synthesize_image"
	if req.Prompt == "" {
		return nil, validationError(runwareProvider, op, "prompt is required")
	}
	refs := make([]string, 0, len(req.ReferenceImages))
	for i, ref := range req.ReferenceImages {
		if ref.IsZero() {
			return nil, validationError(runwareProvider, op, "reference image %d is empty", i)
		}
		refs = append(refs, ref.WireValue())
	}

	width, height := req.Width, req.Height
	if width <= 0 {
		width = c.width
	}
	if height <= 0 {
		height = c.height
	}

	taskUUID := uuid.NewString()
	task := map[string]interface{}{
		"taskType":       "imageInference",
		"taskUUID":       taskUUID,
		"model":          c.imageModel,
		"positivePrompt": req.Prompt,
		"width":          width,
		"height":         height,
		"numberResults":  1,
		"outputType":     "URL",
		"outputFormat":   "PNG",
		"includeCost":    true,
	}
	if len(refs) > 0 {
		task["referenceImages"] = refs
	}

	item, err := c.runTask(ctx, op, taskUUID, task)
	if err != nil {
		return nil, err
	}
	return c.assetResult(item, op, taskUUID, imageFields, "imageUUID")
}

// AnimateImage submits an asynchronous image-to-video task and polls it to completion.
func (c *RunwareClient) AnimateImage(ctx context.Context, req AnimationRequest) (*Result[Asset], error) {
	const op = "animate_image"
	if req.Image.IsZero() {
		return nil, validationError(runwareProvider, op, "input image is required")
	}
	if req.DurationSeconds < c.minDuration || req.DurationSeconds > c.maxDuration {
		return nil, validationError(runwareProvider, op, "duration %d outside [%d, %d]", req.DurationSeconds, c.minDuration, c.maxDuration)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, validationError(runwareProvider, op, "width and height must be positive")
	}
	if req.FPS < 1 || req.FPS > 60 {
		return nil, validationError(runwareProvider, op, "fps %d outside [1, 60]", req.FPS)
	}

	taskUUID := uuid.NewString()
	task := map[string]interface{}{
		"taskType":       "videoInference",
		"taskUUID":       taskUUID,
		"deliveryMethod": "async",
		"model":          c.videoModel,
		"positivePrompt": req.Prompt,
		"duration":       req.DurationSeconds,
		"width":          req.Width,
		"height":         req.Height,
		"fps":            req.FPS,
		"outputType":     "URL",
		"outputFormat":   "mp4",
		"outputQuality":  95,
		"numberResults":  1,
		"includeCost":    true,
		"frameImages": []map[string]interface{}{
			{"inputImage": req.Image.WireValue(), "frame": "first"},
		},
	}

	if _, err := c.submit(ctx, op, task); err != nil {
		return nil, err
	}

	var final map[string]interface{}
	err := c.poller.Wait(ctx, op, taskUUID, func(ctx context.Context, attempt int) (PollState, error) {
		item, state, err := c.checkTask(ctx, taskUUID)
		if state == PollSucceeded {
			final = item
		}
		return state, err
	})
	if err != nil {
		return nil, err
	}

	return c.assetResult(final, op, taskUUID, videoFields, "videoUUID")
}

// checkTask issues one getResponse call for an async task.
func (c *RunwareClient) checkTask(ctx context.Context, taskUUID string) (map[string]interface{}, PollState, error) {
	const op = "get_response"
	task := map[string]interface{}{
		"taskType": "getResponse",
		"taskUUID": taskUUID,
	}

	body, err := c.http.postJSON(ctx, op, c.baseURL, []interface{}{task})
	if err != nil {
		// Transient: keep polling inside the wait window.
		return nil, PollPolling, err
	}

	var env runwareEnvelope
	if err := c.http.decode(op, body, &env); err != nil {
		return nil, PollPolling, err
	}

	for _, e := range env.Errors {
		if e.Code == "taskNotFound" {
			return nil, PollPolling, nil
		}
	}
	if len(env.Errors) > 0 {
		return nil, PollFailed, providerError(runwareProvider, "animate_image", env.Errors[0].Message)
	}

	item := matchTask(env.Data, taskUUID)
	if item == nil {
		return nil, PollPolling, nil
	}

	switch stringField(item, "status") {
	case "success":
		return item, PollSucceeded, nil
	case "error", "failed":
		msg := stringField(item, "error")
		if msg == "" {
			msg = stringField(item, "message")
		}
		if msg == "" {
			msg = "video generation failed"
		}
		return nil, PollFailed, providerError(runwareProvider, "animate_image", msg)
	case "":
		// Some responses omit status once the output is attached.
		if _, _, ok := firstString(item, videoFields); ok {
			return item, PollSucceeded, nil
		}
	}
	return nil, PollPolling, nil
}

// runTask posts a synchronous task and returns its data item.
func (c *RunwareClient) runTask(ctx context.Context, op, taskUUID string, task map[string]interface{}) (map[string]interface{}, error) {
	env, err := c.submit(ctx, op, task)
	if err != nil {
		return nil, err
	}
	item := matchTask(env.Data, taskUUID)
	if item == nil {
		return nil, shapeError(runwareProvider, op, []string{"data"})
	}
	return item, nil
}

func (c *RunwareClient) submit(ctx context.Context, op string, task map[string]interface{}) (*runwareEnvelope, error) {
	body, err := c.http.postJSON(ctx, op, c.baseURL, []interface{}{task})
	if err != nil {
		return nil, err
	}

	var env runwareEnvelope
	if err := c.http.decode(op, body, &env); err != nil {
		return nil, err
	}
	if len(env.Errors) > 0 {
		return nil, providerError(runwareProvider, op, env.Errors[0].Message)
	}
	return &env, nil
}

func (c *RunwareClient) assetResult(item map[string]interface{}, op, taskUUID string, fields []string, uuidField string) (*Result[Asset], error) {
	asset, field, err := assetFrom(item, runwareProvider, op, fields, uuidField)
	if err != nil {
		return nil, err
	}
	return &Result[Asset]{
		Payload:  asset,
		Cost:     floatField(item, "cost"),
		Seed:     intField(item, "seed"),
		TaskUUID: taskUUID,
		Field:    field,
	}, nil
}

// matchTask picks the data item for taskUUID, falling back to the first item.
func matchTask(data []map[string]interface{}, taskUUID string) map[string]interface{} {
	for _, item := range data {
		if stringField(item, "taskUUID") == taskUUID {
			return item
		}
	}
	if len(data) > 0 {
		return data[0]
	}
	return nil
}
