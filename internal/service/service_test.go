package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/pipeline/pipelinetest"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	configured bool
	answer     string
	err        error
	calls      int
}

func (f *fakeText) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func (f *fakeText) IsConfigured() bool { return f.configured }

type fakeGemini struct {
	configured bool
	imageErr   error
	refs       []client.Media
	speechText string
}

func (f *fakeGemini) IsConfigured() bool { return f.configured }

func (f *fakeGemini) GenerateImage(ctx context.Context, prompt string, refs []client.Media) (*client.Result[client.Asset], error) {
	f.refs = refs
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &client.Result[client.Asset]{Payload: client.Asset{Media: client.ParseMedia("data:image/png;base64,Y2hhcg==")}}, nil
}

func (f *fakeGemini) DescribeImage(ctx context.Context, prompt string, image client.Media) (string, error) {
	return "  ink and gouache, muted greens  ", nil
}

func (f *fakeGemini) GenerateSpeech(ctx context.Context, text, voice string) (*client.Result[client.Asset], error) {
	f.speechText = text
	return &client.Result[client.Asset]{Payload: client.Asset{Media: client.MediaFromBytes([]byte("RIFF"), "audio/wav")}}, nil
}

const twoBeats = "```json\n" + `{"title": "The Map", "beats": [
	{"actingDirection": "looks surprised", "imagePrompt": "a fox finds a map", "storyText": "Fox found a map."},
	{"actingDirection": "runs", "imagePrompt": "a fox runs to the hill", "storyText": "Fox ran."}
]}` + "\n```"

func TestGenerateStructure_FallsBackInOrder(t *testing.T) {
	broken := &fakeText{configured: true, err: errors.New("quota exceeded")}
	unconfigured := &fakeText{}
	working := &fakeText{configured: true, answer: twoBeats}

	svc := NewStoryService(StoryClients{Text: []client.TextGenerator{broken, unconfigured, working}}, nil)
	res, err := svc.GenerateStructure(context.Background(), &model.StructureRequest{Theme: "a fox", BeatCount: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 0, unconfigured.calls)
	assert.Equal(t, "The Map", res.Title)
	assert.NotEmpty(t, res.StoryID)
	require.Len(t, res.Beats, 2)
	assert.Equal(t, 1, res.Beats[1].ID)
	assert.Equal(t, model.BeatStatusPending, res.Beats[0].Status)
	assert.Equal(t, "a fox runs to the hill", res.Beats[1].ImagePrompt)
}

func TestGenerateStructure_RejectsShortAnswer(t *testing.T) {
	gen := &fakeText{configured: true, answer: twoBeats}
	svc := NewStoryService(StoryClients{Text: []client.TextGenerator{gen}}, nil)

	_, err := svc.GenerateStructure(context.Background(), &model.StructureRequest{Theme: "a fox", BeatCount: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI generation failed")
}

func TestGenerateStructure_MockWithoutProviders(t *testing.T) {
	svc := NewStoryService(StoryClients{}, nil)
	res, err := svc.GenerateStructure(context.Background(), &model.StructureRequest{Theme: "space pirates", BeatCount: 6})
	require.NoError(t, err)

	assert.Equal(t, "mock", res.Source)
	assert.Equal(t, "Space pirates", res.Title)
	assert.Len(t, res.Beats, 6)
	for _, b := range res.Beats {
		assert.NotEmpty(t, b.ActingDirection)
		assert.NotEmpty(t, b.ImagePrompt)
		assert.NotEmpty(t, b.StoryText)
	}
}

func TestCreateCharacter(t *testing.T) {
	photo := client.MediaFromBytes([]byte("jpeg"), "image/jpeg")

	gemini := &fakeGemini{configured: true}
	svc := NewStoryService(StoryClients{Renderer: gemini}, nil)
	profile, err := svc.CreateCharacter(context.Background(), photo, "red scarf")
	require.NoError(t, err)
	assert.Equal(t, "red scarf", profile.Description)
	assert.Equal(t, "data:image/png;base64,Y2hhcg==", profile.RenderedImage)
	assert.True(t, strings.HasPrefix(profile.PoseImage, "data:image/jpeg;base64,"))
	require.Len(t, gemini.refs, 1)

	// A failing renderer falls back to image synthesis.
	fake := pipelinetest.New()
	svc = NewStoryService(StoryClients{
		Renderer: &fakeGemini{configured: true, imageErr: errors.New("blocked")},
		Fallback: fake,
	}, nil)
	profile, err = svc.CreateCharacter(context.Background(), client.ParseMedia("https://in/me.jpg"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://fake/image/me.jpg", profile.RenderedImage)

	_, err = NewStoryService(StoryClients{}, nil).CreateCharacter(context.Background(), photo, "")
	assert.True(t, client.IsKind(err, client.KindInputValidation))

	_, err = svc.CreateCharacter(context.Background(), client.Media{}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDescribeStyle(t *testing.T) {
	svc := NewStoryService(StoryClients{Describer: &fakeGemini{configured: true}}, nil)

	profile, err := svc.DescribeStyle(context.Background(), &model.StyleRequest{StyleParagraph: "pencil sketch"})
	require.NoError(t, err)
	assert.Equal(t, "pencil sketch", profile.StyleParagraph)

	profile, err = svc.DescribeStyle(context.Background(), &model.StyleRequest{ReferenceImage: "data:image/png;base64,aGk="})
	require.NoError(t, err)
	assert.Equal(t, "ink and gouache, muted greens", profile.StyleParagraph)
	assert.Equal(t, "data:image/png;base64,aGk=", profile.ReferenceImage)

	profile, err = NewStoryService(StoryClients{}, nil).DescribeStyle(context.Background(), &model.StyleRequest{ReferenceImage: "data:image/png;base64,aGk="})
	require.NoError(t, err)
	assert.Equal(t, defaultStyleParagraph, profile.StyleParagraph)

	_, err = svc.DescribeStyle(context.Background(), &model.StyleRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type recordingNotifier struct {
	mu        sync.Mutex
	events    int
	completed []*model.BatchResult
}

func (n *recordingNotifier) Observe(batchID string, stage model.Stage, state model.StageState, beat model.Beat) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events++
}

func (n *recordingNotifier) BroadcastComplete(batchID string, result *model.BatchResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
}

func (n *recordingNotifier) BroadcastError(batchID string, code, message string) {}

func (n *recordingNotifier) completes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed)
}

type memorySink struct {
	mu    sync.Mutex
	names []string
}

func (s *memorySink) Store(ctx context.Context, name string, media client.Media) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return "/out/" + name, nil
}

func newBatchService(t *testing.T, fake *pipelinetest.Providers, n Notifier, speech SpeechSynthesizer, sink pipeline.ArtifactSink) *BatchService {
	t.Helper()
	p := pipeline.New(fake.Providers(), nil, pipeline.Options{
		Video: pipeline.VideoSettings{SystemPrompt: "smooth", DurationSeconds: 5, Width: 1248, Height: 704, FPS: 24},
		Sound: pipeline.SoundSettings{NumSamples: 1},
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewBatchService(ctx, scheduler.New(p, scheduler.Config{}, nil), n, speech, sink, BatchOptions{VideoModel: "bytedance:1@1"}, nil)
}

func generateRequest(n int) *model.GenerateRequest {
	req := &model.GenerateRequest{
		StoryID:   "story-1",
		Title:     "The Map",
		Character: &model.CharacterProfile{RenderedImage: "https://in/character.png"},
		Options:   model.BatchOptions{AddSound: true, OutputPrefix: "map"},
	}
	for i := 0; i < n; i++ {
		req.Beats = append(req.Beats, model.GenerateBeat{
			ActingDirection: "waves",
			ImagePrompt:     fmt.Sprintf("scene %d", i),
			StoryText:       fmt.Sprintf("Line %d.", i),
			CapturedImage:   fmt.Sprintf("https://in/beat-%d.jpg", i),
		})
	}
	return req
}

func waitCompleted(t *testing.T, svc *BatchService, id string) *model.BatchView {
	t.Helper()
	var view *model.BatchView
	require.Eventually(t, func() bool {
		v, err := svc.Get(context.Background(), id)
		if err != nil {
			return false
		}
		view = v
		return v.Status == model.BatchStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	return view
}

func TestBatchService_StartGetAndRetry(t *testing.T) {
	fake := pipelinetest.New()
	fake.VideoErr = func(req client.AnimationRequest) error {
		if strings.Contains(req.Image.Value, "beat-1") {
			return pipelinetest.HTTPError("runware", "animate_image", http.StatusInternalServerError, "boom")
		}
		return nil
	}
	notifier := &recordingNotifier{}
	svc := newBatchService(t, fake, notifier, nil, nil)

	started, err := svc.Start(context.Background(), generateRequest(3))
	require.NoError(t, err)
	assert.Equal(t, 3, started.Total)
	assert.Equal(t, "story-1", started.StoryID)

	view := waitCompleted(t, svc, started.BatchID)
	assert.Equal(t, 3, view.TotalCount)
	assert.Equal(t, 2, view.SuccessCount)
	require.NotNil(t, view.Result)
	assert.Equal(t, 2, view.Result.SuccessfulVideos)
	assert.Contains(t, view.Result.VideoResults[1].Error, "500")
	require.NotNil(t, view.Story)
	assert.Equal(t, 2, view.Story.Counts.Videos)
	assert.False(t, view.Story.VideoComplete)
	assert.Eventually(t, func() bool { return notifier.completes() == 1 }, time.Second, 5*time.Millisecond)

	fake.VideoErr = nil
	imagesBefore := len(fake.ImageRequests())
	beat, err := svc.Retry(context.Background(), started.BatchID, 1, &model.RetryRequest{Stage: model.StageVideo, Continue: true})
	require.NoError(t, err)
	assert.Equal(t, model.BeatStatusDone, beat.Status)
	assert.Len(t, beat.SoundArtifacts, 1)
	assert.Equal(t, imagesBefore, len(fake.ImageRequests()))
	assert.Equal(t, 2, notifier.completes())

	view, err = svc.Get(context.Background(), started.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.SuccessCount)
	assert.True(t, view.Story.VideoComplete)
}

func TestBatchService_Errors(t *testing.T) {
	svc := newBatchService(t, pipelinetest.New(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	req := generateRequest(1)
	req.Character = nil
	_, err = svc.Start(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	started, err := svc.Start(context.Background(), generateRequest(1))
	require.NoError(t, err)
	waitCompleted(t, svc, started.BatchID)

	_, err = svc.Retry(context.Background(), started.BatchID, 7, &model.RetryRequest{Stage: model.StageVideo})
	assert.ErrorIs(t, err, scheduler.ErrBeatNotFound)

	_, err = svc.Narrate(context.Background(), started.BatchID, &model.NarrationRequest{})
	assert.True(t, client.IsKind(err, client.KindInputValidation))
}

func TestBatchService_Narrate(t *testing.T) {
	speech := &fakeGemini{configured: true}
	sink := &memorySink{}
	svc := newBatchService(t, pipelinetest.New(), nil, speech, sink)

	started, err := svc.Start(context.Background(), generateRequest(2))
	require.NoError(t, err)
	waitCompleted(t, svc, started.BatchID)

	res, err := svc.Narrate(context.Background(), started.BatchID, &model.NarrationRequest{Voice: "Kore"})
	require.NoError(t, err)
	narration := "/out/map_" + started.BatchID[:8] + "_narration.wav"
	assert.Equal(t, narration, res.Narration)
	assert.Equal(t, "Line 0.\n\nLine 1.", speech.speechText)

	view, err := svc.Get(context.Background(), started.BatchID)
	require.NoError(t, err)
	assert.Equal(t, narration, view.Story.Narration)
}

func TestBatchService_GenerateSyncVideoOnly(t *testing.T) {
	fake := pipelinetest.New()
	svc := newBatchService(t, fake, nil, nil, nil)

	view, err := svc.GenerateSync(context.Background(), scheduler.BatchJob{
		Beats: []pipeline.BeatInput{
			{GeneratedImage: "https://in/one.png", PromptOverride: "smiles"},
			{GeneratedImage: "https://in/two.png"},
		},
		Plan: pipeline.PlanFor([]model.Stage{model.StageVideo}, false),
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, 2, view.Result.SuccessfulVideos)
	assert.Nil(t, view.Result.SoundResults)
	assert.Empty(t, fake.PoseCalls())
}

func TestLibraryService(t *testing.T) {
	svc := NewLibraryService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.Save(ctx, &model.Story{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	saved, err := svc.Save(ctx, &model.Story{
		Title: "The Map",
		Beats: []model.Beat{
			{ID: 9, GeneratedImage: "https://cdn/1.png", Status: model.BeatStatusDone,
				Stages: model.StageStates{Image: model.StageState{Status: model.StageStatusSucceeded}}},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 0, saved.Beats[0].ID)

	st, view, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Map", st.Title)
	assert.True(t, view.StoryboardComplete)
	assert.Equal(t, "https://cdn/1.png", view.Beats[0].BestArtifact)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, saved.ID))
	_, _, err = svc.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
