package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Gemini    GeminiConfig
	Groq      GroqConfig
	Runware   RunwareConfig
	Mirelo    MireloConfig
	Pipeline  PipelineConfig
	Storage   StorageConfig
	R2        R2Config
	Library   LibraryConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	MaxUploadMB   int
	AllowedOrigin string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	StructurePerMin int
	GeneratePerHour int
	VideosPerHour   int
	LibraryPerMin   int
}

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImageModel  string
	SpeechModel string
	Voice       string
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type RunwareConfig struct {
	APIKey       string
	BaseURL      string
	ImageModel   string
	VideoModel   string
	ImageWidth   int
	ImageHeight  int
	PollInterval time.Duration
	PollTimeout  time.Duration
	MinDuration  int
	MaxDuration  int
}

type MireloConfig struct {
	APIKey       string
	BaseURL      string
	ModelVersion string
	Steps        int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// PipelineConfig holds the per-batch defaults applied when a request leaves an option unset.
type PipelineConfig struct {
	MaxWorkers      int
	ImageWorkers    int
	Debug           bool
	BatchTimeout    time.Duration
	VideoDuration   int
	VideoWidth      int
	VideoHeight     int
	VideoFPS        int
	SystemPrompt    string
	SoundDuration   int
	SoundCreativity int
	SoundSamples    int
	SoundPrompt     string
	NegativePrompt  string
}

type StorageConfig struct {
	Driver    string // local | r2
	OutputDir string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type LibraryConfig struct {
	Driver     string // redis | sqlite | memory
	SQLitePath string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// Load reads config.yaml (optional), environment variables and Docker secrets.
func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("GEMINI_API_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("RUNWARE_API_KEY")
	readSecret("MIRELO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"server.max_upload_mb":        "MAX_UPLOAD_MB",
		"server.allowed_origin":       "ALLOWED_ORIGIN",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"jwt.secret":                  "JWT_SECRET",
		"jwt.expiration":              "JWT_EXPIRATION",
		"gemini.api_key":              "GEMINI_API_KEY",
		"gemini.base_url":             "GEMINI_BASE_URL",
		"gemini.text_model":           "GEMINI_TEXT_MODEL",
		"gemini.image_model":          "GEMINI_IMAGE_MODEL",
		"gemini.speech_model":         "GEMINI_SPEECH_MODEL",
		"gemini.voice":                "GEMINI_VOICE",
		"groq.api_key":                "GROQ_API_KEY",
		"groq.base_url":               "GROQ_BASE_URL",
		"groq.model":                  "GROQ_MODEL",
		"runware.api_key":             "RUNWARE_API_KEY",
		"runware.base_url":            "RUNWARE_BASE_URL",
		"runware.image_model":         "RUNWARE_IMAGE_MODEL",
		"runware.video_model":         "RUNWARE_VIDEO_MODEL",
		"runware.poll_interval":       "RUNWARE_POLL_INTERVAL",
		"runware.poll_timeout":        "RUNWARE_POLL_TIMEOUT",
		"mirelo.api_key":              "MIRELO_API_KEY",
		"mirelo.base_url":             "MIRELO_BASE_URL",
		"mirelo.poll_interval":        "MIRELO_POLL_INTERVAL",
		"mirelo.poll_timeout":         "MIRELO_POLL_TIMEOUT",
		"pipeline.max_workers":        "MAX_WORKERS",
		"pipeline.image_workers":      "IMAGE_WORKERS",
		"pipeline.debug":              "PIPELINE_DEBUG",
		"pipeline.batch_timeout":      "BATCH_TIMEOUT",
		"pipeline.system_prompt":      "VIDEO_SYSTEM_PROMPT",
		"storage.driver":              "STORAGE_DRIVER",
		"storage.output_dir":          "OUTPUT_DIR",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"library.driver":              "LIBRARY_DRIVER",
		"library.sqlite_path":         "LIBRARY_SQLITE_PATH",
		"zitadel.domain":              "ZITADEL_DOMAIN",
		"zitadel.client_id":           "ZITADEL_CLIENT_ID",
		"zitadel.issuer":              "ZITADEL_ISSUER",
		"gateway.enabled":             "GATEWAY_ENABLED",
		"ratelimit.structure_per_min": "RATE_STRUCTURE_PER_MIN",
		"ratelimit.generate_per_hour": "RATE_GENERATE_PER_HOUR",
		"ratelimit.videos_per_hour":   "RATE_VIDEOS_PER_HOUR",
		"ratelimit.library_per_min":   "RATE_LIBRARY_PER_MIN",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.structure_per_min", 20)
	v.SetDefault("ratelimit.generate_per_hour", 10)
	v.SetDefault("ratelimit.videos_per_hour", 10)
	v.SetDefault("ratelimit.library_per_min", 60)

	// Gemini defaults
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.text_model", "gemini-2.5-flash")
	v.SetDefault("gemini.image_model", "gemini-2.5-flash-image")
	v.SetDefault("gemini.speech_model", "gemini-2.5-flash-preview-tts")
	v.SetDefault("gemini.voice", "Kore")

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Runware defaults
	v.SetDefault("runware.base_url", "https://api.runware.ai/v1")
	v.SetDefault("runware.image_model", "runware:101@1")
	v.SetDefault("runware.video_model", "bytedance:1@1")
	v.SetDefault("runware.image_width", 1248)
	v.SetDefault("runware.image_height", 704)
	v.SetDefault("runware.poll_interval", "10s")
	v.SetDefault("runware.poll_timeout", "300s")
	v.SetDefault("runware.min_duration", 1)
	v.SetDefault("runware.max_duration", 12)

	// Mirelo defaults
	v.SetDefault("mirelo.base_url", "https://api.mirelo.ai")
	v.SetDefault("mirelo.model_version", "1.5")
	v.SetDefault("mirelo.steps", 25)
	v.SetDefault("mirelo.poll_interval", "5s")
	v.SetDefault("mirelo.poll_timeout", "300s")

	// Pipeline defaults
	v.SetDefault("pipeline.max_workers", 3)
	v.SetDefault("pipeline.image_workers", 4)
	v.SetDefault("pipeline.debug", false)
	v.SetDefault("pipeline.batch_timeout", "0s")
	v.SetDefault("pipeline.video_duration", 5)
	v.SetDefault("pipeline.video_width", 1248)
	v.SetDefault("pipeline.video_height", 704)
	v.SetDefault("pipeline.video_fps", 24)
	v.SetDefault("pipeline.system_prompt", "smooth animation, natural movement, facial reactions and actions only, NO Lip movement, high quality")
	v.SetDefault("pipeline.sound_duration", 5)
	v.SetDefault("pipeline.sound_creativity", 6)
	v.SetDefault("pipeline.sound_samples", 1)
	v.SetDefault("pipeline.sound_prompt", "cinematic sound effects, ambient sounds, facial reactions, actions")
	v.SetDefault("pipeline.negative_prompt", "speech, talking, dialogue, vocals, words")

	// Storage defaults
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.output_dir", "output")

	// Library defaults
	v.SetDefault("library.driver", "redis")
	v.SetDefault("library.sqlite_path", "data/library.db")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			Env:           v.GetString("server.env"),
			LogLevel:      v.GetString("server.log_level"),
			MaxUploadMB:   v.GetInt("server.max_upload_mb"),
			AllowedOrigin: v.GetString("server.allowed_origin"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			StructurePerMin: v.GetInt("ratelimit.structure_per_min"),
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			VideosPerHour:   v.GetInt("ratelimit.videos_per_hour"),
			LibraryPerMin:   v.GetInt("ratelimit.library_per_min"),
		},
		Gemini: GeminiConfig{
			APIKey:      v.GetString("gemini.api_key"),
			BaseURL:     v.GetString("gemini.base_url"),
			TextModel:   v.GetString("gemini.text_model"),
			ImageModel:  v.GetString("gemini.image_model"),
			SpeechModel: v.GetString("gemini.speech_model"),
			Voice:       v.GetString("gemini.voice"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		Runware: RunwareConfig{
			APIKey:       v.GetString("runware.api_key"),
			BaseURL:      v.GetString("runware.base_url"),
			ImageModel:   v.GetString("runware.image_model"),
			VideoModel:   v.GetString("runware.video_model"),
			ImageWidth:   v.GetInt("runware.image_width"),
			ImageHeight:  v.GetInt("runware.image_height"),
			PollInterval: v.GetDuration("runware.poll_interval"),
			PollTimeout:  v.GetDuration("runware.poll_timeout"),
			MinDuration:  v.GetInt("runware.min_duration"),
			MaxDuration:  v.GetInt("runware.max_duration"),
		},
		Mirelo: MireloConfig{
			APIKey:       v.GetString("mirelo.api_key"),
			BaseURL:      v.GetString("mirelo.base_url"),
			ModelVersion: v.GetString("mirelo.model_version"),
			Steps:        v.GetInt("mirelo.steps"),
			PollInterval: v.GetDuration("mirelo.poll_interval"),
			PollTimeout:  v.GetDuration("mirelo.poll_timeout"),
		},
		Pipeline: PipelineConfig{
			MaxWorkers:      v.GetInt("pipeline.max_workers"),
			ImageWorkers:    v.GetInt("pipeline.image_workers"),
			Debug:           v.GetBool("pipeline.debug"),
			BatchTimeout:    v.GetDuration("pipeline.batch_timeout"),
			VideoDuration:   v.GetInt("pipeline.video_duration"),
			VideoWidth:      v.GetInt("pipeline.video_width"),
			VideoHeight:     v.GetInt("pipeline.video_height"),
			VideoFPS:        v.GetInt("pipeline.video_fps"),
			SystemPrompt:    v.GetString("pipeline.system_prompt"),
			SoundDuration:   v.GetInt("pipeline.sound_duration"),
			SoundCreativity: v.GetInt("pipeline.sound_creativity"),
			SoundSamples:    v.GetInt("pipeline.sound_samples"),
			SoundPrompt:     v.GetString("pipeline.sound_prompt"),
			NegativePrompt:  v.GetString("pipeline.negative_prompt"),
		},
		Storage: StorageConfig{
			Driver:    v.GetString("storage.driver"),
			OutputDir: v.GetString("storage.output_dir"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Library: LibraryConfig{
			Driver:     v.GetString("library.driver"),
			SQLitePath: v.GetString("library.sqlite_path"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
