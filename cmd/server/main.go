package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/makeastory/api/internal/auth"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/config"
	"github.com/makeastory/api/internal/handler"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/middleware"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/service"
	"github.com/makeastory/api/internal/storage"
	"github.com/makeastory/api/internal/store"
	ws "github.com/makeastory/api/internal/websocket"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available, rate limiting disabled", "error", err)
		redisOK = false
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// Initialize provider clients
	runware := client.NewRunwareClient(&cfg.Runware, log)
	mirelo := client.NewMireloClient(&cfg.Mirelo, log)
	groq := client.NewGroqClient(&cfg.Groq, log)
	gemini, err := client.NewGeminiClient(ctx, &cfg.Gemini, log)
	if err != nil {
		log.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer gemini.Close()

	var r2 client.StorageClient
	if cfg.Storage.Driver == "r2" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Error("failed to create R2 client", "error", err)
			os.Exit(1)
		}
		r2 = r2Client
	}

	artifacts, err := storage.New(&cfg.Storage, r2, log)
	if err != nil {
		log.Error("failed to initialize artifact storage", "error", err)
		os.Exit(1)
	}

	if !redisOK && cfg.Library.Driver == "redis" {
		log.Warn("redis not available, story library kept in memory")
		cfg.Library.Driver = "memory"
	}
	library, err := store.New(&cfg.Library, redisClient, log)
	if err != nil {
		log.Error("failed to initialize story library", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline and scheduler
	p := pipeline.New(pipeline.Providers{
		Pose:     runware,
		Images:   runware,
		Animator: runware,
		Sound:    mirelo,
	}, artifacts, pipeline.OptionsFromConfig(cfg), log)
	sched := scheduler.New(p, scheduler.Config{
		MaxWorkers:   cfg.Pipeline.MaxWorkers,
		ImageWorkers: cfg.Pipeline.ImageWorkers,
		Timeout:      cfg.Pipeline.BatchTimeout,
	}, log)

	// Initialize services
	storyService := service.NewStoryService(service.StoryClients{
		Text:      []client.TextGenerator{gemini, groq},
		Renderer:  gemini,
		Fallback:  runware,
		Describer: gemini,
	}, log)
	batchService := service.NewBatchService(ctx, sched, hub, gemini, artifacts, service.BatchOptions{
		VideoModel: cfg.Runware.VideoModel,
	}, log)
	libraryService := service.NewLibraryService(library)

	// Initialize handlers
	maxUpload := int64(cfg.Server.MaxUploadMB) * 1024 * 1024
	storyHandler := handler.NewStoryHandler(storyService, batchService, validate, maxUpload)
	batchHandler := handler.NewBatchHandler(batchService, validate)
	videosHandler := handler.NewVideosHandler(batchService, maxUpload)
	downloadHandler := handler.NewDownloadHandler(artifacts)
	libraryHandler := handler.NewLibraryHandler(libraryService, validate)
	log.Info("providers initialized",
		"runware_key", logging.SanitizeToken(cfg.Runware.APIKey),
		"mirelo_key", logging.SanitizeToken(cfg.Mirelo.APIKey),
		"gemini_configured", gemini.IsConfigured(),
		"groq_configured", groq.IsConfigured(),
	)
	healthHandler := handler.NewHealthHandler(map[string]handler.Configurable{
		"runware": runware,
		"mirelo":  mirelo,
		"gemini":  gemini,
		"groq":    groq,
	})

	// Initialize middleware
	local := auth.NewHMACVerifier(cfg.JWT.Secret)
	verifiers := auth.Chain{}
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn("identity provider unavailable, accepting local tokens only", "issuer", cfg.Zitadel.Issuer, "error", err)
		} else {
			verifiers = append(verifiers, jwks)
		}
	}
	verifiers = append(verifiers, local)

	authMiddleware := middleware.Authenticate(verifiers)
	if cfg.Gateway.Enabled {
		authMiddleware = middleware.GatewayAuth()
	}

	var rateLimiter *middleware.RateLimiter
	if redisOK {
		rateLimiter = middleware.NewRateLimiter(redisClient, log)
	}
	authHandler := handler.NewAuthHandler(verifiers)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(maxUpload) * 4,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "${time} ${status} ${latency} ${method} ${path}\n"
	if cfg.Server.Env == "development" {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigin,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", authMiddleware)

	// Story routes
	stories := api.Group("/stories")
	stories.Post("/structure", rateLimiter.StructureLimit(cfg.RateLimit.StructurePerMin), storyHandler.Structure)
	stories.Post("/character", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), storyHandler.Character)
	stories.Post("/style", rateLimiter.StructureLimit(cfg.RateLimit.StructurePerMin), storyHandler.Style)
	stories.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), storyHandler.Generate)

	// Batch routes
	batches := api.Group("/batches")
	batches.Get("/:batchId", batchHandler.Get)
	batches.Post("/:batchId/beats/:index/retry", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), batchHandler.Retry)
	batches.Post("/:batchId/narration", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), batchHandler.Narration)

	// Video and download routes
	api.Post("/videos/generate", rateLimiter.VideosLimit(cfg.RateLimit.VideosPerHour), videosHandler.Generate)
	api.Get("/download/:filename", downloadHandler.Download)

	// Library routes
	lib := api.Group("/library", rateLimiter.LibraryLimit(cfg.RateLimit.LibraryPerMin))
	lib.Post("/", libraryHandler.Save)
	lib.Get("/", libraryHandler.List)
	lib.Get("/:storyId", libraryHandler.Get)
	lib.Delete("/:storyId", libraryHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("batchId"))
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env, "storage", cfg.Storage.Driver, "library", cfg.Library.Driver)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	// Stop background batches and give them a moment to record their state
	stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := batchService.Wait(waitCtx); err != nil {
		log.Warn("batches still running at exit", "error", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := "SERVICE_ERROR"
	switch code {
	case fiber.StatusNotFound:
		errCode = "NOT_FOUND"
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
		errCode = "VALIDATION_ERROR"
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    errCode,
			"message": message,
		},
	})
}
