package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeastory/api/internal/auth"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/handler"
	"github.com/makeastory/api/internal/middleware"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/pipeline/pipelinetest"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/internal/storage"
	"github.com/makeastory/api/internal/store"
)

const testJWTSecret = "test-secret-for-handlers"

type fakeSpeech struct{}

func (fakeSpeech) GenerateSpeech(ctx context.Context, text, voice string) (*client.Result[client.Asset], error) {
	return &client.Result[client.Asset]{Payload: client.Asset{Media: client.MediaFromBytes([]byte("RIFF"+text), "audio/wav")}}, nil
}

func (fakeSpeech) IsConfigured() bool { return true }

type configured bool

func (c configured) IsConfigured() bool { return bool(c) }

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	providers *pipelinetest.Providers
	outputDir string
}

// setupApp creates a Fiber app wired like cmd/server but with fake
// providers, local storage in a temp dir and an in-memory library.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	validate := validator.New()
	fake := pipelinetest.New()

	dir := t.TempDir()
	artifacts, err := storage.NewLocal(dir, nil, nil)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	p := pipeline.New(fake.Providers(), nil, pipeline.Options{
		Video: pipeline.VideoSettings{SystemPrompt: "smooth", DurationSeconds: 5, Width: 1248, Height: 704, FPS: 24},
		Sound: pipeline.SoundSettings{NumSamples: 1},
	}, nil)
	sched := scheduler.New(p, scheduler.Config{MaxWorkers: 3, ImageWorkers: 2}, nil)

	// Services; no text providers so structure falls back to the mock
	storyService := service.NewStoryService(service.StoryClients{Fallback: fake}, nil)
	batchService := service.NewBatchService(ctx, sched, nil, fakeSpeech{}, artifacts, service.BatchOptions{VideoModel: "bytedance:1@1"}, nil)
	libraryService := service.NewLibraryService(store.NewMemory())

	// Handlers
	storyHandler := handler.NewStoryHandler(storyService, batchService, validate, 10*1024*1024)
	batchHandler := handler.NewBatchHandler(batchService, validate)
	videosHandler := handler.NewVideosHandler(batchService, 10*1024*1024)
	downloadHandler := handler.NewDownloadHandler(artifacts)
	libraryHandler := handler.NewLibraryHandler(libraryService, validate)
	healthHandler := handler.NewHealthHandler(map[string]handler.Configurable{
		"runware": configured(true),
		"gemini":  configured(false),
	})

	verifier := auth.NewHMACVerifier(testJWTSecret)
	authHandler := handler.NewAuthHandler(verifier)

	// Rate limiter without Redis passes every request through
	var rateLimiter *middleware.RateLimiter

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", middleware.Authenticate(verifier))

	stories := api.Group("/stories", rateLimiter.StructureLimit(10000))
	stories.Post("/structure", storyHandler.Structure)
	stories.Post("/character", storyHandler.Character)
	stories.Post("/style", storyHandler.Style)
	stories.Post("/generate", storyHandler.Generate)

	batches := api.Group("/batches")
	batches.Get("/:batchId", batchHandler.Get)
	batches.Post("/:batchId/beats/:index/retry", batchHandler.Retry)
	batches.Post("/:batchId/narration", batchHandler.Narration)

	api.Post("/videos/generate", rateLimiter.VideosLimit(10000), videosHandler.Generate)
	api.Get("/download/:filename", downloadHandler.Download)

	lib := api.Group("/library", rateLimiter.LibraryLimit(10000))
	lib.Post("/", libraryHandler.Save)
	lib.Get("/", libraryHandler.List)
	lib.Get("/:storyId", libraryHandler.Get)
	lib.Delete("/:storyId", libraryHandler.Delete)

	return &testApp{app: app, providers: fake, outputDir: dir}
}

// generateToken creates a local HMAC token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewHMACVerifier(testJWTSecret).Issue("test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
}

// upload is one file of a multipart request.
type upload struct {
	field, filename string
	data            []byte
}

// doMultipart performs an authenticated multipart request.
func doMultipart(t *testing.T, app *fiber.App, path string, files []upload, values map[string][]string) (*http.Response, error) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(f.data)
	}
	for k, vs := range values {
		for _, v := range vs {
			_ = w.WriteField(k, v)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode returns error.code of an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error envelope: %v", body)
	}
	code, _ := e["code"].(string)
	return code
}
