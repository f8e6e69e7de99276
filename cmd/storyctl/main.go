// Package main provides storyctl, a command line client for the story
// reel pipeline that runs without the HTTP server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/makeastory/api/internal/config"
	"github.com/makeastory/api/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "Story reel generation tools",
	Long:  "storyctl generates story structures and turns still images into short clips with optional sound effects, using the same pipeline as the API server.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger; logs go to stderr
// so command output stays machine readable.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return cfg, logging.NewLoggerTo(os.Stderr, level), nil
}
