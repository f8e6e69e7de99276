// Package scheduler runs the beats of a batch concurrently under per-stage
// concurrency limits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
	"github.com/makeastory/api/internal/workpool"
)

const (
	DefaultMaxWorkers   = 3
	DefaultImageWorkers = 4
)

var (
	ErrNoBeats      = errors.New("batch has no beats")
	ErrBeatNotFound = errors.New("beat not found")
)

// Observer receives every stage transition of every beat in a batch.
type Observer func(batchID string, stage model.Stage, state model.StageState, beat model.Beat)

// BatchJob describes one batch request.
type BatchJob struct {
	ID      string
	StoryID string
	Title   string
	Beats   []pipeline.BeatInput
	Shared  pipeline.Shared
	Plan    pipeline.Plan
	// MaxWorkers bounds beats in the video and sound stages.
	MaxWorkers int
	// ImageWorkers bounds beats in the pose and image stages.
	ImageWorkers int
	Observer     Observer
}

// Outcome is the terminal result of one beat.
type Outcome struct {
	Index int
	Beat  model.Beat
	Err   error
}

// Config holds scheduler defaults.
type Config struct {
	MaxWorkers   int
	ImageWorkers int
	// Timeout, when positive, bounds a whole batch.
	Timeout time.Duration
}

// Scheduler executes batches against a pipeline.
type Scheduler struct {
	pipeline *pipeline.Pipeline
	cfg      Config
	logger   *slog.Logger
}

// New creates a scheduler.
func New(p *pipeline.Pipeline, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.ImageWorkers < 1 {
		cfg.ImageWorkers = DefaultImageWorkers
	}
	return &Scheduler{
		pipeline: p,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "scheduler"),
	}
}

// Prepare validates job and builds its batch without starting it.
func (s *Scheduler) Prepare(job BatchJob) (*Batch, error) {
	if len(job.Beats) == 0 {
		return nil, ErrNoBeats
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxWorkers < 1 {
		job.MaxWorkers = s.cfg.MaxWorkers
	}
	if job.ImageWorkers < 1 {
		job.ImageWorkers = s.cfg.ImageWorkers
	}

	shared := job.Shared
	shared.BatchID = job.ID
	shared.Prefix = artifactPrefix(shared.Prefix, job.ID)

	logger := logging.WithBatchID(s.logger, job.ID)
	b := &Batch{
		ID:      job.ID,
		StoryID: job.StoryID,
		Title:   job.Title,
		Shared:  &shared,
		plan:    job.Plan,
		gates: pipeline.Gates{
			Image: workpool.NewLimiter("image", job.ImageWorkers, logger),
			Video: workpool.NewLimiter("video", job.MaxWorkers, logger),
		},
		runs:      make([]*pipeline.Run, len(job.Beats)),
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	for i, in := range job.Beats {
		run := pipeline.NewRun(i, in, job.Plan, b.Shared)
		if job.Observer != nil {
			observe := job.Observer
			run.SetObserver(func(stage model.Stage, state model.StageState, beat model.Beat) {
				observe(b.ID, stage, state, beat)
			})
		}
		b.runs[i] = run
	}
	return b, nil
}

// Execute runs every beat of b and blocks until each has reached a terminal
// state. The returned outcomes are index-aligned with the batch input; one
// beat failing never cancels another.
func (s *Scheduler) Execute(ctx context.Context, b *Batch) []Outcome {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	logger := logging.WithBatchID(s.logger, b.ID)
	logger.Info("batch started",
		"beats", len(b.runs),
		"max_workers", b.gates.Video.Size(),
		"image_workers", b.gates.Image.Size(),
	)
	start := time.Now()

	outcomes := workpool.Map(ctx, len(b.runs), len(b.runs), func(ctx context.Context, i int) Outcome {
		run := b.runs[i]
		err := s.pipeline.Run(ctx, run, b.gates)
		return Outcome{Index: i, Beat: run.Snapshot(), Err: err}
	})

	b.finish()
	total, success := b.Counts()
	logger.Info("batch finished",
		"total", total,
		"succeeded", success,
		"duration", time.Since(start).String(),
		"peak_video", b.gates.Video.Peak(),
		"peak_image", b.gates.Image.Peak(),
	)
	return outcomes
}

// Run prepares and executes job.
func (s *Scheduler) Run(ctx context.Context, job BatchJob) (*Batch, []Outcome, error) {
	b, err := s.Prepare(job)
	if err != nil {
		return nil, nil, err
	}
	return b, s.Execute(ctx, b), nil
}

// Retry re-runs one stage of beat index under the batch's limits.
func (s *Scheduler) Retry(ctx context.Context, b *Batch, index int, stage model.Stage, opts pipeline.RetryOptions) (model.Beat, error) {
	run, err := b.Run(index)
	if err != nil {
		return model.Beat{}, err
	}
	logging.WithBeat(logging.WithBatchID(s.logger, b.ID), index).Info("retrying stage", "stage", stage, "continue", opts.Continue)
	err = s.pipeline.Retry(ctx, run, stage, b.gates, opts)
	return run.Snapshot(), err
}

// Batch is the in-memory state of one batch.
type Batch struct {
	ID      string
	StoryID string
	Title   string
	Shared  *pipeline.Shared

	plan  pipeline.Plan
	gates pipeline.Gates
	runs  []*pipeline.Run

	mu          sync.Mutex
	createdAt   time.Time
	completedAt *time.Time
	done        chan struct{}
}

// Plan returns the stages the batch was asked to run.
func (b *Batch) Plan() pipeline.Plan {
	return b.plan
}

// Len returns the number of beats.
func (b *Batch) Len() int {
	return len(b.runs)
}

// Run returns the run of beat index.
func (b *Batch) Run(index int) (*pipeline.Run, error) {
	if index < 0 || index >= len(b.runs) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrBeatNotFound, index, len(b.runs))
	}
	return b.runs[index], nil
}

// Beats returns a snapshot of every beat in index order.
func (b *Batch) Beats() []model.Beat {
	out := make([]model.Beat, len(b.runs))
	for i, run := range b.runs {
		out[i] = run.Snapshot()
	}
	return out
}

// Counts returns the number of beats and how many are done.
func (b *Batch) Counts() (total, success int) {
	for _, run := range b.runs {
		if run.Snapshot().Status == model.BeatStatusDone {
			success++
		}
	}
	return len(b.runs), success
}

// Complete reports whether every beat is idle in a terminal state.
func (b *Batch) Complete() bool {
	select {
	case <-b.done:
	default:
		return false
	}
	for _, run := range b.runs {
		if !run.Terminal() {
			return false
		}
	}
	return true
}

// Status is completed once every beat is terminal.
func (b *Batch) Status() model.BatchStatus {
	if b.Complete() {
		return model.BatchStatusCompleted
	}
	return model.BatchStatusRunning
}

// Done is closed when the initial execution finishes.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the initial execution finishes or ctx ends.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Times returns when the batch was created and first finished.
func (b *Batch) Times() (time.Time, *time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createdAt, b.completedAt
}

// Limits returns the effective video and image concurrency bounds.
func (b *Batch) Limits() (video, image int) {
	return b.gates.Video.Size(), b.gates.Image.Size()
}

// PeakVideo returns the highest number of beats seen at once in the video
// and sound stages.
func (b *Batch) PeakVideo() int {
	return b.gates.Video.Peak()
}

func (b *Batch) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completedAt != nil {
		return
	}
	now := time.Now().UTC()
	b.completedAt = &now
	close(b.done)
}

// artifactPrefix names a batch's artifacts. The batch id is always part of
// it so batches sharing a caller prefix never write the same file.
func artifactPrefix(prefix, id string) string {
	if prefix == "" {
		return shortID(id)
	}
	return prefix + "_" + shortID(id)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
