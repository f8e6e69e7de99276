package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/scheduler"
	"github.com/makeastory/api/internal/story"
)

// ErrBatchNotFound is returned for unknown or expired batch IDs.
var ErrBatchNotFound = errors.New("batch not found")

// Notifier receives batch progress. The websocket hub implements it.
type Notifier interface {
	Observe(batchID string, stage model.Stage, state model.StageState, beat model.Beat)
	BroadcastComplete(batchID string, result *model.BatchResult)
	BroadcastError(batchID string, code, message string)
}

// SpeechSynthesizer turns narration text into audio.
type SpeechSynthesizer interface {
	GenerateSpeech(ctx context.Context, text, voice string) (*client.Result[client.Asset], error)
	IsConfigured() bool
}

// BatchOptions configure a batch service.
type BatchOptions struct {
	// VideoModel is reported on successful video results.
	VideoModel string
	// Retention is how long finished batches stay queryable.
	Retention time.Duration
}

type batchEntry struct {
	batch *scheduler.Batch

	mu        sync.Mutex
	narration string
}

func (e *batchEntry) setNarration(handle string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.narration = handle
}

func (e *batchEntry) getNarration() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.narration
}

// BatchService starts batches in the background, keeps them in memory
// while they are queryable and serves retries and narration.
type BatchService struct {
	scheduler *scheduler.Scheduler
	notifier  Notifier
	speech    SpeechSynthesizer
	sink      pipeline.ArtifactSink
	opts      BatchOptions
	logger    *slog.Logger

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	batches map[string]*batchEntry
}

// NewBatchService creates a batch service. Background batches run under
// ctx; cancelling it stops them.
func NewBatchService(ctx context.Context, sched *scheduler.Scheduler, notifier Notifier, speech SpeechSynthesizer, sink pipeline.ArtifactSink, opts BatchOptions, logger *slog.Logger) *BatchService {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &BatchService{
		scheduler: sched,
		notifier:  notifier,
		speech:    speech,
		sink:      sink,
		opts:      opts,
		logger:    logging.WithComponent(logger, "batch_service"),
		ctx:       ctx,
		batches:   make(map[string]*batchEntry),
	}
}

// JobFromRequest turns a generate request into a scheduler job.
func JobFromRequest(req *model.GenerateRequest) (scheduler.BatchJob, error) {
	plan := pipeline.PlanFor(req.Stages, req.Options.AddSound)
	if plan.Image && (req.Character == nil || req.Character.RenderedImage == "") {
		return scheduler.BatchJob{}, fmt.Errorf("%w: character reference image is required for image synthesis", ErrInvalidInput)
	}

	beats := make([]pipeline.BeatInput, len(req.Beats))
	for i, b := range req.Beats {
		beats[i] = pipeline.BeatInput{
			ActingDirection: b.ActingDirection,
			ImagePrompt:     b.ImagePrompt,
			StoryText:       b.StoryText,
			CapturedImage:   b.CapturedImage,
			GeneratedImage:  b.GeneratedImage,
			PromptOverride:  b.PromptOverride,
		}
	}

	return scheduler.BatchJob{
		StoryID: req.StoryID,
		Title:   req.Title,
		Beats:   beats,
		Shared: pipeline.Shared{
			Prefix:    req.Options.OutputPrefix,
			Character: req.Character,
			Style:     req.Style,
			Debug:     req.Options.Debug,
		},
		Plan:         plan,
		MaxWorkers:   req.Options.MaxWorkers,
		ImageWorkers: req.Options.ImageWorkers,
	}, nil
}

// Start registers a batch and runs it in the background.
func (s *BatchService) Start(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	job, err := JobFromRequest(req)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		job.Observer = s.notifier.Observe
	}

	batch, err := s.scheduler.Prepare(job)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.sweep()
	s.mu.Lock()
	s.batches[batch.ID] = &batchEntry{batch: batch}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Execute(s.ctx, batch)

		if s.notifier == nil {
			return
		}
		if err := s.ctx.Err(); err != nil {
			s.notifier.BroadcastError(batch.ID, "CANCELLED", "batch stopped: "+err.Error())
		}
		result := s.result(batch)
		s.notifier.BroadcastComplete(batch.ID, &result)
	}()

	return &model.GenerateResponse{
		BatchID: batch.ID,
		StoryID: batch.StoryID,
		Status:  model.BatchStatusRunning,
		Total:   batch.Len(),
	}, nil
}

// GenerateSync runs a batch to completion and returns its result.
func (s *BatchService) GenerateSync(ctx context.Context, job scheduler.BatchJob) (*model.BatchView, error) {
	batch, _, err := s.scheduler.Run(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.view(&batchEntry{batch: batch}), nil
}

// Get returns the current view of a batch.
func (s *BatchService) Get(ctx context.Context, batchID string) (*model.BatchView, error) {
	entry, err := s.entry(batchID)
	if err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

// Retry re-runs one stage of one beat and returns the beat afterwards.
// Stage failures are reported on the beat, not as an error.
func (s *BatchService) Retry(ctx context.Context, batchID string, index int, req *model.RetryRequest) (*model.Beat, error) {
	entry, err := s.entry(batchID)
	if err != nil {
		return nil, err
	}

	beat, err := s.scheduler.Retry(s.ctx, entry.batch, index, req.Stage, pipeline.RetryOptions{
		Prompt:   req.Prompt,
		Continue: req.Continue,
	})
	switch {
	case errors.Is(err, scheduler.ErrBeatNotFound), errors.Is(err, pipeline.ErrBeatBusy),
		errors.Is(err, pipeline.ErrStageBlocked), errors.Is(err, pipeline.ErrUnknownStage):
		return nil, err
	case err != nil:
		s.logger.Info("retry finished with failure", "batch_id", batchID, "beat", index, "stage", req.Stage, "error", err)
	}

	if s.notifier != nil && entry.batch.Complete() {
		result := s.result(entry.batch)
		s.notifier.BroadcastComplete(batchID, &result)
	}
	return &beat, nil
}

// Narrate synthesizes the story text of a batch as one audio file and
// attaches it to the story view.
func (s *BatchService) Narrate(ctx context.Context, batchID string, req *model.NarrationRequest) (*model.NarrationResponse, error) {
	entry, err := s.entry(batchID)
	if err != nil {
		return nil, err
	}
	if s.speech == nil || !s.speech.IsConfigured() {
		return nil, &client.Error{Kind: client.KindInputValidation, Provider: "story", Op: "narrate", Message: "no speech provider configured"}
	}

	script := story.NarrationScript(entry.batch.Beats())
	if script == "" {
		return nil, fmt.Errorf("%w: no story text to narrate", ErrInvalidInput)
	}

	res, err := s.speech.GenerateSpeech(ctx, script, req.Voice)
	if err != nil {
		return nil, fmt.Errorf("AI generation failed: %w", err)
	}

	handle := res.Payload.Media.String()
	if s.sink != nil {
		name := entry.batch.Shared.Prefix + "_narration" + client.ExtensionForMIMEType(res.Payload.Media.ContentType("audio/wav"))
		if handle, err = s.sink.Store(ctx, name, res.Payload.Media); err != nil {
			return nil, fmt.Errorf("failed to store narration: %w", err)
		}
	}

	entry.setNarration(handle)
	return &model.NarrationResponse{Narration: handle}, nil
}

// Wait blocks until every background batch has returned or ctx ends.
func (s *BatchService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BatchService) entry(batchID string) (*batchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return entry, nil
}

// sweep drops finished batches older than the retention window.
func (s *BatchService) sweep() {
	cutoff := time.Now().Add(-s.opts.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.batches {
		if _, completed := entry.batch.Times(); completed != nil && completed.Before(cutoff) && entry.batch.Complete() {
			delete(s.batches, id)
		}
	}
}

func (s *BatchService) result(b *scheduler.Batch) model.BatchResult {
	return story.BuildBatchResult(b.Beats(), b.Plan(), story.ResultOptions{VideoModel: s.opts.VideoModel})
}

func (s *BatchService) view(entry *batchEntry) *model.BatchView {
	b := entry.batch
	beats := b.Beats()
	total, success := b.Counts()
	created, completed := b.Times()
	storyView := story.BuildStoryView(b.StoryID, b.Title, beats, entry.getNarration())

	v := &model.BatchView{
		ID:           b.ID,
		StoryID:      b.StoryID,
		Status:       b.Status(),
		TotalCount:   total,
		SuccessCount: success,
		Beats:        beats,
		Story:        &storyView,
		CreatedAt:    created,
		CompletedAt:  completed,
	}
	if v.Status == model.BatchStatusCompleted {
		result := story.BuildBatchResult(beats, b.Plan(), story.ResultOptions{VideoModel: s.opts.VideoModel})
		v.Result = &result
	}
	return v
}
