package scheduler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/config"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/pipeline/pipelinetest"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func options() pipeline.Options {
	return pipeline.Options{
		Video: pipeline.VideoSettings{SystemPrompt: "smooth animation", DurationSeconds: 5, Width: 1248, Height: 704, FPS: 24},
		Sound: pipeline.SoundSettings{TextPrompt: "cinematic", DurationSeconds: 5, Creativity: 6, NumSamples: 1},
	}
}

func shared() pipeline.Shared {
	return pipeline.Shared{
		Character: &model.CharacterProfile{Description: "a fox", RenderedImage: "https://in/character.png"},
		Style:     &model.StyleProfile{StyleParagraph: "watercolor"},
	}
}

func beats(n int) []pipeline.BeatInput {
	in := make([]pipeline.BeatInput, n)
	for i := range in {
		in[i] = pipeline.BeatInput{
			ActingDirection: "waves",
			ImagePrompt:     fmt.Sprintf("scene %d", i),
			StoryText:       "text",
			CapturedImage:   fmt.Sprintf("https://in/beat-%d.jpg", i),
		}
	}
	return in
}

func newScheduler(fake *pipelinetest.Providers) *scheduler.Scheduler {
	return scheduler.New(pipeline.New(fake.Providers(), nil, options(), nil), scheduler.Config{}, nil)
}

func TestRun_ResultsAreIndexAligned(t *testing.T) {
	fake := pipelinetest.New()
	// Later beats finish first.
	fake.VideoHook = func(ctx context.Context, req client.AnimationRequest) error {
		if strings.Contains(req.Image.Value, "beat-0") {
			time.Sleep(30 * time.Millisecond)
		}
		return nil
	}
	fake.ImageErr = func(req client.SynthesisRequest) error {
		if strings.Contains(req.Prompt, "scene 3") {
			return pipelinetest.HTTPError("runware", "synthesize_image", http.StatusBadRequest, "bad prompt")
		}
		return nil
	}

	batch, outcomes, err := newScheduler(fake).Run(context.Background(), scheduler.BatchJob{
		Beats:  beats(5),
		Shared: shared(),
		Plan:   pipeline.FullPlan(false),
	})
	require.NoError(t, err)

	require.Len(t, outcomes, 5)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, i, o.Beat.ID)
		assert.True(t, o.Beat.Status == model.BeatStatusDone || o.Beat.Status == model.BeatStatusError)
	}
	assert.Error(t, outcomes[3].Err)
	assert.Equal(t, model.BeatStatusError, outcomes[3].Beat.Status)

	total, success := batch.Counts()
	assert.Equal(t, 5, total)
	assert.Equal(t, 4, success)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status())
	_, completedAt := batch.Times()
	assert.NotNil(t, completedAt)
}

func TestRun_PoseFailureDoesNotAbortSiblings(t *testing.T) {
	fake := pipelinetest.New()
	fake.PoseErr = func(image client.Media) error {
		if pipelinetest.Key(image) == "beat-1.jpg" {
			return &client.Error{Kind: client.KindProviderReported, Provider: "runware", Op: "preprocess_pose", Message: "no person detected"}
		}
		return nil
	}

	batch, outcomes, err := newScheduler(fake).Run(context.Background(), scheduler.BatchJob{
		Beats:  beats(4),
		Shared: shared(),
		Plan:   pipeline.FullPlan(true),
	})
	require.NoError(t, err)

	assert.Equal(t, model.BeatStatusError, outcomes[1].Beat.Status)
	assert.Contains(t, outcomes[1].Beat.LastError, "no person detected")
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, model.BeatStatusDone, outcomes[i].Beat.Status, i)
		assert.Len(t, outcomes[i].Beat.SoundArtifacts, 1)
	}
	assert.Len(t, fake.VideoRequests(), 3)
	assert.True(t, batch.Complete())
}

func TestRun_VideoConcurrencyBound(t *testing.T) {
	const workers = 2
	fake := pipelinetest.New()
	fake.VideoDelay = 20 * time.Millisecond

	batch, outcomes, err := newScheduler(fake).Run(context.Background(), scheduler.BatchJob{
		Beats:      beats(7),
		Shared:     shared(),
		Plan:       pipeline.FullPlan(true),
		MaxWorkers: workers,
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 7)

	assert.LessOrEqual(t, fake.VideoPeak(), workers)
	assert.LessOrEqual(t, batch.PeakVideo(), workers)
	assert.GreaterOrEqual(t, batch.PeakVideo(), 1)
	video, image := batch.Limits()
	assert.Equal(t, workers, video)
	assert.Equal(t, scheduler.DefaultImageWorkers, image)
	for _, o := range outcomes {
		assert.Equal(t, model.BeatStatusDone, o.Beat.Status)
	}
}

func TestRun_VideoHTTPErrorScenario(t *testing.T) {
	fake := pipelinetest.New()
	fake.VideoErr = func(req client.AnimationRequest) error {
		if strings.Contains(req.Image.Value, "beat-1") {
			return pipelinetest.HTTPError("runware", "animate_image", http.StatusInternalServerError, `{"error":"internal"}`)
		}
		return nil
	}

	batch, _, err := newScheduler(fake).Run(context.Background(), scheduler.BatchJob{
		Beats:  beats(3),
		Shared: shared(),
		Plan:   pipeline.FullPlan(true),
	})
	require.NoError(t, err)

	res := story.BuildBatchResult(batch.Beats(), batch.Plan(), story.ResultOptions{})
	require.Len(t, res.VideoResults, 3)
	for i, r := range res.VideoResults {
		assert.Equal(t, i, r.Index)
	}
	assert.False(t, res.VideoResults[1].Success)
	assert.Contains(t, res.VideoResults[1].Error, "500")
	assert.Equal(t, 2, res.SuccessfulVideos)
	assert.Equal(t, 3, res.TotalVideos)

	soundIndexes := []int{}
	for _, r := range res.SoundResults {
		soundIndexes = append(soundIndexes, r.Index)
		assert.True(t, r.Success)
	}
	assert.Equal(t, []int{0, 2}, soundIndexes)
	assert.Equal(t, 2, *res.SuccessfulSounds)
	assert.Len(t, fake.SoundRequests(), 2)
}

// fakeClock advances instantly whenever something waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// newVideoServer answers Runware video tasks. Tasks whose input image
// mentions stuck never leave processing.
func newVideoServer(t *testing.T, stuck string) *httptest.Server {
	var mu sync.Mutex
	inputs := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tasks []map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		task := tasks[0]
		id, _ := task["taskUUID"].(string)
		item := map[string]interface{}{"taskType": task["taskType"], "taskUUID": id}

		switch task["taskType"] {
		case "videoInference":
			frames, _ := task["frameImages"].([]interface{})
			frame, _ := frames[0].(map[string]interface{})
			input, _ := frame["inputImage"].(string)
			mu.Lock()
			inputs[id] = input
			mu.Unlock()
		case "getResponse":
			mu.Lock()
			input := inputs[id]
			mu.Unlock()
			if strings.Contains(input, stuck) {
				item["status"] = "processing"
			} else {
				item["status"] = "success"
				item["videoURL"] = "https://vm.runware.ai/video/" + pipelinetest.Key(client.ParseMedia(input)) + ".mp4"
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{item}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_VideoTimeoutIsolatedToOneBeat(t *testing.T) {
	srv := newVideoServer(t, "beat-2")
	runware := client.NewRunwareClient(&config.RunwareConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		VideoModel:   "bytedance:1@1",
		PollInterval: 10 * time.Second,
		PollTimeout:  300 * time.Second,
		MinDuration:  1,
		MaxDuration:  12,
	}, nil).WithClock(&fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	fake := pipelinetest.New()
	providers := fake.Providers()
	providers.Animator = runware
	s := scheduler.New(pipeline.New(providers, nil, options(), nil), scheduler.Config{}, nil)

	var videoStarts int32
	start := time.Now()
	batch, outcomes, err := s.Run(context.Background(), scheduler.BatchJob{
		Beats:  beats(3),
		Shared: shared(),
		Plan:   pipeline.FullPlan(false),
		Observer: func(batchID string, stage model.Stage, state model.StageState, beat model.Beat) {
			if stage == model.StageVideo && state.Status == model.StageStatusRunning {
				atomic.AddInt32(&videoStarts, 1)
			}
		},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.EqualValues(t, 3, atomic.LoadInt32(&videoStarts))

	assert.Equal(t, client.KindTimeout, client.KindOf(outcomes[2].Err))
	assert.Equal(t, model.BeatStatusError, outcomes[2].Beat.Status)
	assert.Equal(t, string(client.KindTimeout), outcomes[2].Beat.Stages.Video.ErrorKind)
	for _, i := range []int{0, 1} {
		assert.Equal(t, model.BeatStatusDone, outcomes[i].Beat.Status, i)
		assert.Equal(t, fmt.Sprintf("https://vm.runware.ai/video/beat-%d.jpg.mp4", i), outcomes[i].Beat.VideoArtifact)
	}
	assert.True(t, batch.Complete())
}

func TestRetry_OnlyTouchesOneBeat(t *testing.T) {
	fake := pipelinetest.New()
	failing := int32(1)
	fake.ImageErr = func(req client.SynthesisRequest) error {
		if strings.Contains(req.Prompt, "scene 1") && atomic.LoadInt32(&failing) == 1 {
			return fmt.Errorf("flaky")
		}
		return nil
	}
	s := newScheduler(fake)

	batch, _, err := s.Run(context.Background(), scheduler.BatchJob{
		Beats:  beats(3),
		Shared: shared(),
		Plan:   pipeline.FullPlan(false),
	})
	require.NoError(t, err)
	before := batch.Beats()
	require.Equal(t, model.BeatStatusError, before[1].Status)
	poseCalls := len(fake.PoseCalls())

	atomic.StoreInt32(&failing, 0)
	beat, err := s.Retry(context.Background(), batch, 1, model.StageImage, pipeline.RetryOptions{Continue: true})
	require.NoError(t, err)
	assert.Equal(t, model.BeatStatusDone, beat.Status)
	assert.Len(t, fake.PoseCalls(), poseCalls)

	after := batch.Beats()
	assert.Equal(t, before[0], after[0])
	assert.Equal(t, before[2], after[2])
	_, success := batch.Counts()
	assert.Equal(t, 3, success)

	_, err = s.Retry(context.Background(), batch, 7, model.StageImage, pipeline.RetryOptions{})
	assert.ErrorIs(t, err, scheduler.ErrBeatNotFound)
}

func TestPrepare_Validation(t *testing.T) {
	s := newScheduler(pipelinetest.New())
	_, err := s.Prepare(scheduler.BatchJob{})
	assert.ErrorIs(t, err, scheduler.ErrNoBeats)

	b, err := s.Prepare(scheduler.BatchJob{Beats: beats(1), Shared: shared()})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, b.ID[:8], b.Shared.Prefix)
	assert.Equal(t, b.ID, b.Shared.BatchID)
	assert.Equal(t, model.BatchStatusRunning, b.Status())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx))

	b, err = s.Prepare(scheduler.BatchJob{ID: "0123456789abcdef", Beats: beats(1), Shared: pipeline.Shared{Prefix: "story"}})
	require.NoError(t, err)
	assert.Equal(t, "story_01234567", b.Shared.Prefix)
}

type namingSink struct {
	mu    sync.Mutex
	names map[string]bool
}

func (s *namingSink) Store(ctx context.Context, name string, media client.Media) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[name] {
		return "", fmt.Errorf("%s already written", name)
	}
	s.names[name] = true
	return "/files/" + name, nil
}

func TestRun_SamePrefixBatchesDoNotShareNames(t *testing.T) {
	sink := &namingSink{names: map[string]bool{}}
	s := scheduler.New(pipeline.New(pipelinetest.New().Providers(), sink, options(), nil), scheduler.Config{}, nil)

	var wg sync.WaitGroup
	batches := make([]*scheduler.Batch, 2)
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sh := shared()
			sh.Prefix = "story"
			b, _, err := s.Run(context.Background(), scheduler.BatchJob{
				Beats:  beats(2),
				Shared: sh,
				Plan:   pipeline.FullPlan(true),
			})
			assert.NoError(t, err)
			batches[i] = b
		}(i)
	}
	wg.Wait()

	require.Len(t, sink.names, 12)
	for _, b := range batches {
		require.NotNil(t, b)
		assert.True(t, strings.HasPrefix(b.Shared.Prefix, "story_"))
		_, success := b.Counts()
		assert.Equal(t, 2, success)
	}
	assert.NotEqual(t, batches[0].Shared.Prefix, batches[1].Shared.Prefix)
}
