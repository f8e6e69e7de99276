package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/service"
)

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Generate a story structure",
	Long:  "Generate a titled story split into beats, each with an acting direction, an image prompt and narration text. Prints JSON.",
	RunE:  runStructure,
}

var (
	structureTheme     string
	structureCharacter string
	structureBeats     int
)

func init() {
	structureCmd.Flags().StringVarP(&structureTheme, "theme", "t", "", "Story theme (required)")
	structureCmd.Flags().StringVarP(&structureCharacter, "character", "c", "", "Character description")
	structureCmd.Flags().IntVarP(&structureBeats, "beats", "n", 6, fmt.Sprintf("Number of beats (the editor offers %v)", model.SuggestedBeatCounts))
	_ = structureCmd.MarkFlagRequired("theme")

	rootCmd.AddCommand(structureCmd)
}

func runStructure(cmd *cobra.Command, _ []string) error {
	if structureBeats < 1 {
		return fmt.Errorf("--beats must be positive")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gemini, err := client.NewGeminiClient(ctx, &cfg.Gemini, logger)
	if err != nil {
		return err
	}
	defer gemini.Close()
	groq := client.NewGroqClient(&cfg.Groq, logger)

	svc := service.NewStoryService(service.StoryClients{
		Text: []client.TextGenerator{gemini, groq},
	}, logger)

	res, err := svc.GenerateStructure(ctx, &model.StructureRequest{
		Theme:                structureTheme,
		CharacterDescription: structureCharacter,
		BeatCount:            structureBeats,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
