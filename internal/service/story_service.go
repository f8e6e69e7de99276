package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/story"
)

// ErrInvalidInput marks request problems the caller can fix.
var ErrInvalidInput = errors.New("invalid input")

// ImageRenderer renders an image from a prompt and inline references.
type ImageRenderer interface {
	GenerateImage(ctx context.Context, prompt string, refs []client.Media) (*client.Result[client.Asset], error)
	IsConfigured() bool
}

// ImageDescriber answers a prompt about an image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, prompt string, image client.Media) (string, error)
	IsConfigured() bool
}

// StoryClients are the providers the story service draws on. Text
// generators are tried in order; unconfigured ones are skipped.
type StoryClients struct {
	Text      []client.TextGenerator
	Renderer  ImageRenderer
	Fallback  pipeline.ImageSynthesizer
	Describer ImageDescriber
}

// StoryService builds the story-level inputs of a batch: the beat
// structure, the character profile and the style profile.
type StoryService struct {
	clients StoryClients
	logger  *slog.Logger
}

// NewStoryService creates a story service.
func NewStoryService(clients StoryClients, logger *slog.Logger) *StoryService {
	return &StoryService{
		clients: clients,
		logger:  logging.WithComponent(logger, "story_service"),
	}
}

// GenerateStructure writes a story skeleton of req.BeatCount beats.
func (s *StoryService) GenerateStructure(ctx context.Context, req *model.StructureRequest) (*model.StructureResponse, error) {
	if req.BeatCount < 1 {
		return nil, fmt.Errorf("%w: beat count must be positive", ErrInvalidInput)
	}

	systemPrompt := s.buildSystemPrompt()
	userPrompt := s.buildStructurePrompt(req)

	var lastErr error
	for _, gen := range s.clients.Text {
		if gen == nil || !gen.IsConfigured() {
			continue
		}
		text, err := generate(ctx, gen, systemPrompt, userPrompt)
		if err != nil {
			s.logger.Warn("structure generation failed, trying next provider", "error", err)
			lastErr = err
			continue
		}
		structure, err := story.ParseStructure(text, req.BeatCount)
		if err != nil {
			s.logger.Warn("structure rejected, trying next provider", "error", err)
			lastErr = err
			continue
		}
		return structureResponse(structure, sourceOf(gen)), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("AI generation failed: %w", lastErr)
	}
	return structureResponse(s.structureMock(req), "mock"), nil
}

// jsonGenerator is a text generator with a dedicated JSON output mode.
type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

func generate(ctx context.Context, gen client.TextGenerator, system, prompt string) (string, error) {
	if j, ok := gen.(jsonGenerator); ok {
		return j.GenerateJSON(ctx, system, prompt)
	}
	return gen.GenerateText(ctx, system, prompt)
}

func structureResponse(structure *model.StoryStructure, source string) *model.StructureResponse {
	return &model.StructureResponse{
		StoryID: uuid.NewString(),
		Title:   structure.Title,
		Beats:   story.NewBeats(structure),
		Source:  source,
	}
}

func sourceOf(gen client.TextGenerator) string {
	switch gen.(type) {
	case *client.GeminiClient:
		return "gemini"
	case *client.GroqClient:
		return "groq"
	}
	return "ai"
}

func (s *StoryService) buildSystemPrompt() string {
	return `You are a children's picture-book author and storyboard artist.
You split a story into short beats. Each beat is one shot of an animated reel.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`
}

func (s *StoryService) buildStructurePrompt(req *model.StructureRequest) string {
	character := req.CharacterDescription
	if character == "" {
		character = "the child in the captured photo"
	}

	return fmt.Sprintf(`Write a story about: %s
Main character: %s
Number of beats: %d

For every beat provide:
- actingDirection: what the character does or feels, one short sentence, facial reactions and actions only
- imagePrompt: a visual description of the shot for an illustrator, no style words
- storyText: one or two sentences of narration read aloud over the shot

Output as JSON: {"title": "...", "beats": [{"actingDirection": "...", "imagePrompt": "...", "storyText": "..."}]}`,
		req.Theme, character, req.BeatCount)
}

func (s *StoryService) structureMock(req *model.StructureRequest) *model.StoryStructure {
	actions := []string{
		"looks around curiously",
		"gasps in surprise",
		"smiles and waves",
		"frowns, thinking hard",
		"jumps with excitement",
		"yawns and stretches",
	}
	structure := &model.StoryStructure{Title: titleFor(req.Theme)}
	for i := 0; i < req.BeatCount; i++ {
		structure.Beats = append(structure.Beats, model.BeatScript{
			ActingDirection: actions[i%len(actions)],
			ImagePrompt:     fmt.Sprintf("scene %d of a story about %s", i+1, req.Theme),
			StoryText:       fmt.Sprintf("Part %d of the adventure: %s.", i+1, req.Theme),
		})
	}
	return structure
}

func titleFor(theme string) string {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return "A New Story"
	}
	return strings.ToUpper(theme[:1]) + theme[1:]
}

// CreateCharacter renders the stylized character from the captured photo.
func (s *StoryService) CreateCharacter(ctx context.Context, photo client.Media, description string) (*model.CharacterProfile, error) {
	if photo.IsZero() {
		return nil, fmt.Errorf("%w: photo is required", ErrInvalidInput)
	}

	prompt := buildCharacterPrompt(description)
	rendered, err := s.renderCharacter(ctx, prompt, photo)
	if err != nil {
		return nil, err
	}

	return &model.CharacterProfile{
		Description:   description,
		PoseImage:     photo.String(),
		RenderedImage: rendered.String(),
	}, nil
}

func buildCharacterPrompt(description string) string {
	prompt := "Turn the person in this photo into a friendly storybook character. " +
		"Full body, neutral pose, plain light background, keep their hair, clothes and face recognizable."
	if d := strings.TrimSpace(description); d != "" {
		prompt += " " + d
	}
	return prompt
}

func (s *StoryService) renderCharacter(ctx context.Context, prompt string, photo client.Media) (client.Media, error) {
	if s.clients.Renderer != nil && s.clients.Renderer.IsConfigured() {
		res, err := s.clients.Renderer.GenerateImage(ctx, prompt, []client.Media{photo})
		if err == nil {
			return res.Payload.Media, nil
		}
		if s.clients.Fallback == nil {
			return client.Media{}, fmt.Errorf("AI generation failed: %w", err)
		}
		s.logger.Warn("character render failed, using image synthesis fallback", "error", err)
	}

	if s.clients.Fallback == nil {
		return client.Media{}, &client.Error{
			Kind:     client.KindInputValidation,
			Provider: "story",
			Op:       "create_character",
			Message:  "no image provider configured",
		}
	}
	res, err := s.clients.Fallback.SynthesizeImage(ctx, client.SynthesisRequest{
		Prompt:          prompt,
		ReferenceImages: []client.Media{photo},
	})
	if err != nil {
		return client.Media{}, fmt.Errorf("AI generation failed: %w", err)
	}
	return res.Payload.Media, nil
}

const stylePrompt = `Describe the art style of this image in one paragraph for an illustrator:
medium, line work, palette, lighting, texture and mood. Do not describe the subject.`

const defaultStyleParagraph = "soft watercolor storybook illustration, gentle outlines, warm pastel palette, diffuse light"

// DescribeStyle builds a style profile. An explicit paragraph wins;
// otherwise the reference image is described by the model.
func (s *StoryService) DescribeStyle(ctx context.Context, req *model.StyleRequest) (*model.StyleProfile, error) {
	profile := &model.StyleProfile{
		ReferenceImage: req.ReferenceImage,
		StyleParagraph: strings.TrimSpace(req.StyleParagraph),
	}
	if profile.StyleParagraph != "" {
		return profile, nil
	}
	if req.ReferenceImage == "" {
		return nil, fmt.Errorf("%w: reference image or style paragraph is required", ErrInvalidInput)
	}

	if s.clients.Describer == nil || !s.clients.Describer.IsConfigured() {
		profile.StyleParagraph = defaultStyleParagraph
		return profile, nil
	}

	text, err := s.clients.Describer.DescribeImage(ctx, stylePrompt, client.ParseMedia(req.ReferenceImage))
	if err != nil {
		return nil, fmt.Errorf("AI generation failed: %w", err)
	}
	profile.StyleParagraph = strings.TrimSpace(text)
	return profile, nil
}
