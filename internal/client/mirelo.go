package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/makeastory/api/internal/config"
)

const mireloProvider = "mirelo"

// MireloClient adds generated sound effects to video clips. Source clips are
// staged as customer assets before the video-to-sfx job is created.
type MireloClient struct {
	http         *transport
	download     *transport
	baseURL      string
	apiKey       string
	modelVersion string
	steps        int
	poller       *Poller
}

// SoundRequest describes one sound-effects call.
type SoundRequest struct {
	Source          Media
	TextPrompt      string
	NegativePrompt  string
	DurationSeconds int
	Creativity      int
	NumSamples      int
	Steps           int
	ModelVersion    string
}

// NewMireloClient creates a new Mirelo API client
func NewMireloClient(cfg *config.MireloConfig, logger *slog.Logger) *MireloClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxWait := cfg.PollTimeout
	if maxWait <= 0 {
		maxWait = 300 * time.Second
	}

	t := newTransport(mireloProvider, 300*time.Second, map[string]string{
		"x-api-key": cfg.APIKey,
	}, logger)

	return &MireloClient{
		http:         t,
		download:     newTransport(mireloProvider, 300*time.Second, nil, logger),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		modelVersion: cfg.ModelVersion,
		steps:        cfg.Steps,
		poller: &Poller{
			Provider: mireloProvider,
			Clock:    SystemClock(),
			Interval: interval,
			MaxWait:  maxWait,
			Logger:   t.logger,
		},
	}
}

// WithClock replaces the clock used while polling sound jobs.
func (c *MireloClient) WithClock(clock Clock) *MireloClient {
	c.poller.Clock = clock
	return c
}

// IsConfigured returns true if the client has valid configuration
func (c *MireloClient) IsConfigured() bool {
	return c.apiKey != ""
}

// AddSoundEffects returns one sound-augmented clip per requested sample.
func (c *MireloClient) AddSoundEffects(ctx context.Context, req SoundRequest) (*Result[[]Asset], error) {
	const op = "add_sound_effects"
	if req.Source.IsZero() {
		return nil, validationError(mireloProvider, op, "source video is required")
	}
	if req.DurationSeconds < 1 || req.DurationSeconds > 10 {
		return nil, validationError(mireloProvider, op, "duration %d outside [1, 10]", req.DurationSeconds)
	}
	if req.Creativity < 1 || req.Creativity > 10 {
		return nil, validationError(mireloProvider, op, "creativity %d outside [1, 10]", req.Creativity)
	}
	if req.NumSamples < 1 {
		return nil, validationError(mireloProvider, op, "at least one sample is required")
	}

	video, err := c.sourceBytes(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	assetID, err := c.stage(ctx, video)
	if err != nil {
		return nil, err
	}

	steps := req.Steps
	if steps <= 0 {
		steps = c.steps
	}
	modelVersion := req.ModelVersion
	if modelVersion == "" {
		modelVersion = c.modelVersion
	}

	payload := map[string]interface{}{
		"customer_asset_id": assetID,
		"duration":          req.DurationSeconds,
		"num_samples":       req.NumSamples,
		"model_version":     modelVersion,
		"creativity_coef":   req.Creativity,
		"return_audio_only": false,
		"text_prompt":       req.TextPrompt,
		"negative_prompt":   req.NegativePrompt,
		"steps":             steps,
	}

	body, err := c.http.postJSON(ctx, op, c.baseURL+"/video-to-sfx", payload, http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return nil, err
	}

	var obj map[string]interface{}
	if err := c.http.decode(op, body, &obj); err != nil {
		return nil, err
	}
	if msg, _, ok := firstString(obj, soundErrorFields); ok {
		return nil, providerError(mireloProvider, op, msg)
	}

	paths, field, ok := firstStringList(obj, soundOutputFields)
	if !ok {
		jobID, _, hasJob := firstString(obj, soundJobFields)
		if !hasJob {
			return nil, missingPayload(op, obj, append(append([]string{}, soundOutputFields...), soundJobFields...))
		}
		paths, field, err = c.waitForJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}

	assets := make([]Asset, 0, len(paths))
	for _, p := range paths {
		assets = append(assets, Asset{Media: ParseMedia(p)})
	}

	return &Result[[]Asset]{
		Payload:  assets,
		Cost:     floatField(obj, "cost"),
		TaskUUID: assetID,
		Field:    field,
	}, nil
}

// stage uploads clip bytes and returns the customer asset id the job refers to.
func (c *MireloClient) stage(ctx context.Context, video []byte) (string, error) {
	const op = "create_customer_asset"

	body, err := c.http.postJSON(ctx, op, c.baseURL+"/create-customer-asset", map[string]string{
		"contentType": "video/mp4",
	})
	if err != nil {
		return "", err
	}

	var obj map[string]interface{}
	if err := c.http.decode(op, body, &obj); err != nil {
		return "", err
	}
	if msg, _, ok := firstString(obj, soundErrorFields); ok {
		return "", providerError(mireloProvider, op, msg)
	}

	assetID, _, ok := firstString(obj, assetIDFields)
	if !ok {
		return "", missingPayload(op, obj, assetIDFields)
	}
	uploadURL, _, ok := firstString(obj, uploadURLFields)
	if !ok {
		return "", missingPayload(op, obj, uploadURLFields)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(video))
	if err != nil {
		return "", &Error{Kind: KindTransport, Provider: mireloProvider, Op: "upload_asset", Err: err}
	}
	req.Header.Set("Content-Type", "video/mp4")
	// The upload URL is pre-signed; it must not carry the API key.
	if _, err := c.download.do(req, "upload_asset", http.StatusOK, http.StatusNoContent); err != nil {
		return "", err
	}

	return assetID, nil
}

func (c *MireloClient) waitForJob(ctx context.Context, jobID string) ([]string, string, error) {
	const op = "video_to_sfx_status"
	var paths []string
	var field string

	err := c.poller.Wait(ctx, "add_sound_effects", jobID, func(ctx context.Context, attempt int) (PollState, error) {
		body, err := c.http.get(ctx, op, fmt.Sprintf("%s/video-to-sfx/%s", c.baseURL, jobID))
		if err != nil {
			return PollPolling, err
		}
		var obj map[string]interface{}
		if err := c.http.decode(op, body, &obj); err != nil {
			return PollPolling, err
		}

		status := strings.ToLower(stringField(obj, "status"))
		switch status {
		case "failed", "error":
			msg, _, ok := firstString(obj, append(append([]string{}, soundErrorFields...), soundMessageFields...))
			if !ok {
				msg = "sound generation failed"
			}
			return PollFailed, providerError(mireloProvider, "add_sound_effects", msg)
		case "succeeded", "completed", "success", "":
			if list, f, ok := firstStringList(obj, soundOutputFields); ok {
				paths, field = list, f
				return PollSucceeded, nil
			}
			if status != "" {
				return PollFailed, shapeError(mireloProvider, "add_sound_effects", soundOutputFields)
			}
		}
		return PollPolling, nil
	})
	return paths, field, err
}

// missingPayload reports a body without the expected fields, using its
// message when the provider explained itself.
func missingPayload(op string, obj map[string]interface{}, fields []string) error {
	if msg, _, ok := firstString(obj, soundMessageFields); ok {
		return providerError(mireloProvider, op, msg)
	}
	return shapeError(mireloProvider, op, fields)
}

// sourceBytes resolves the clip to bytes, fetching remote references.
func (c *MireloClient) sourceBytes(ctx context.Context, src Media) ([]byte, error) {
	if src.IsRemote() {
		return c.download.get(ctx, "download_source", src.Value)
	}
	data, err := src.Bytes()
	if err != nil {
		return nil, validationError(mireloProvider, "add_sound_effects", "unusable source video: %v", err)
	}
	return data, nil
}
