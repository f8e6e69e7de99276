package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/storage"
	"github.com/makeastory/api/internal/story"
)

var videosCmd = &cobra.Command{
	Use:   "videos <image>...",
	Short: "Animate images into clips and add sound effects",
	Long: `Animate each image into a short clip in parallel, then add sound effects to every
clip that succeeded. Files are written to the output directory as video_NN.mp4 and
sound_video_NN_k.mp4, prefixed with the batch prefix.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVideos,
}

var (
	videoPrompts    []string
	videoMaxWorkers int
	videoSkipSound  bool
	videoOutputDir  string
	videoPrefix     string
	videoJSON       bool
)

func init() {
	videosCmd.Flags().StringArrayVarP(&videoPrompts, "prompts", "p", nil, "Prompt for each image, matched by position (repeatable)")
	videosCmd.Flags().IntVarP(&videoMaxWorkers, "max-workers", "w", 0, "Clips generated at once (defaults to MAX_WORKERS)")
	videosCmd.Flags().BoolVar(&videoSkipSound, "skip-sound", false, "Do not add sound effects")
	videosCmd.Flags().StringVarP(&videoOutputDir, "output-dir", "o", "", "Directory for generated files (defaults to OUTPUT_DIR)")
	videosCmd.Flags().StringVar(&videoPrefix, "prefix", "", "File name prefix, followed by a short batch id")
	videosCmd.Flags().BoolVar(&videoJSON, "json", false, "Print the batch result as JSON")

	rootCmd.AddCommand(videosCmd)
}

func runVideos(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	runware := client.NewRunwareClient(&cfg.Runware, logger)
	if !runware.IsConfigured() {
		return fmt.Errorf("RUNWARE_API_KEY is required")
	}
	mirelo := client.NewMireloClient(&cfg.Mirelo, logger)
	if !videoSkipSound && !mirelo.IsConfigured() {
		return fmt.Errorf("MIRELO_API_KEY is required unless --skip-sound is set")
	}

	beats := make([]pipeline.BeatInput, len(args))
	for i, path := range args {
		image, err := client.MediaFromFile(path)
		if err != nil {
			return err
		}
		beats[i].GeneratedImage = image.String()
		if i < len(videoPrompts) {
			beats[i].PromptOverride = strings.TrimSpace(videoPrompts[i])
		}
	}

	dir := videoOutputDir
	if dir == "" {
		dir = cfg.Storage.OutputDir
	}
	sink, err := storage.NewLocal(dir, nil, logger)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Providers{Animator: runware, Sound: mirelo}, sink, pipeline.OptionsFromConfig(cfg), logger)
	sched := scheduler.New(p, scheduler.Config{
		MaxWorkers:   cfg.Pipeline.MaxWorkers,
		ImageWorkers: cfg.Pipeline.ImageWorkers,
		Timeout:      cfg.Pipeline.BatchTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Generating %d clip(s) into %s\n", len(beats), dir)
	batch, _, err := sched.Run(ctx, scheduler.BatchJob{
		Beats:      beats,
		Shared:     pipeline.Shared{Prefix: videoPrefix},
		Plan:       pipeline.PlanFor([]model.Stage{model.StageVideo}, !videoSkipSound),
		MaxWorkers: videoMaxWorkers,
		Observer: func(batchID string, stage model.Stage, state model.StageState, beat model.Beat) {
			if state.Status == model.StageStatusSucceeded || state.Status == model.StageStatusFailed {
				fmt.Fprintf(os.Stderr, "  beat %d %s %s\n", beat.ID+1, stage, state.Status)
			}
		},
	})
	if err != nil {
		return err
	}

	result := story.BuildBatchResult(batch.Beats(), batch.Plan(), story.ResultOptions{VideoModel: cfg.Runware.VideoModel})
	for i := range result.VideoResults {
		if idx := result.VideoResults[i].Index; result.VideoResults[i].ImageFilename == "" && idx < len(args) {
			result.VideoResults[i].ImageFilename = filepath.Base(args[idx])
		}
	}

	if videoJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printVideoSummary(cmd, &result)
	return nil
}

func printVideoSummary(cmd *cobra.Command, result *model.BatchResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Videos: %d/%d succeeded\n", result.SuccessfulVideos, result.TotalVideos)
	for _, v := range result.VideoResults {
		if v.Success {
			fmt.Fprintf(out, "  ok   %s -> %s\n", v.ImageFilename, v.VideoPath)
		} else {
			fmt.Fprintf(out, "  fail %s: %s\n", v.ImageFilename, v.Error)
		}
	}
	if result.SuccessfulSounds == nil {
		return
	}
	fmt.Fprintf(out, "Sound: %d/%d succeeded\n", *result.SuccessfulSounds, len(result.SoundResults))
	for _, s := range result.SoundResults {
		if !s.Success {
			fmt.Fprintf(out, "  fail beat %d: %s\n", s.Index+1, s.Error)
			continue
		}
		for _, path := range s.SoundVideoPaths {
			fmt.Fprintf(out, "  ok   %s\n", path)
		}
	}
}
