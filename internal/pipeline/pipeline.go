// Package pipeline moves a single story beat through pose extraction,
// image synthesis, animation and sound effects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/workpool"
)

// PoseProcessor extracts a pose guide from a captured photo.
type PoseProcessor interface {
	PreprocessPose(ctx context.Context, image client.Media) (*client.Result[client.Asset], error)
}

// ImageSynthesizer renders a still from a prompt and ordered references.
type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, req client.SynthesisRequest) (*client.Result[client.Asset], error)
}

// Animator turns a still into a short clip.
type Animator interface {
	AnimateImage(ctx context.Context, req client.AnimationRequest) (*client.Result[client.Asset], error)
}

// SoundAugmenter adds sound effects to a clip.
type SoundAugmenter interface {
	AddSoundEffects(ctx context.Context, req client.SoundRequest) (*client.Result[[]client.Asset], error)
}

// ArtifactSink copies a generated artifact somewhere stable and returns the
// handle stored on the beat (a file name or a URL).
type ArtifactSink interface {
	Store(ctx context.Context, name string, media client.Media) (string, error)
}

// Providers groups the external services a pipeline calls.
type Providers struct {
	Pose     PoseProcessor
	Images   ImageSynthesizer
	Animator Animator
	Sound    SoundAugmenter
}

// VideoSettings are the animation parameters applied to every beat.
type VideoSettings struct {
	SystemPrompt    string
	DurationSeconds int
	Width           int
	Height          int
	FPS             int
}

// SoundSettings are the sound-effect parameters applied to every beat.
type SoundSettings struct {
	TextPrompt      string
	NegativePrompt  string
	DurationSeconds int
	Creativity      int
	NumSamples      int
}

// Options configure a pipeline.
type Options struct {
	Video VideoSettings
	Sound SoundSettings
	// Debug keeps the pose guide on the beat for display.
	Debug bool
	// ImageWidth and ImageHeight size synthesized stills; zero uses the provider default.
	ImageWidth  int
	ImageHeight int
}

// Gates bound concurrency per stage class. Nil gates do not limit.
type Gates struct {
	Image *workpool.Limiter
	Video *workpool.Limiter
}

var (
	ErrBeatBusy     = errors.New("beat is already being processed")
	ErrStageBlocked = errors.New("stage inputs are not available")
	ErrUnknownStage = errors.New("unknown stage")
)

// Pipeline runs beats. It holds no per-beat state and is safe for
// concurrent use by many runs.
type Pipeline struct {
	providers Providers
	sink      ArtifactSink
	opts      Options
	logger    *slog.Logger
}

// New creates a pipeline. sink may be nil, in which case beats carry the
// provider handles directly.
func New(providers Providers, sink ArtifactSink, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		providers: providers,
		sink:      sink,
		opts:      opts,
		logger:    logging.WithComponent(logger, "pipeline"),
	}
}

// Options returns the pipeline configuration.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run advances the beat through every planned stage that has not yet
// succeeded, stopping at the first failure. Failures are recorded on the
// beat and returned; they never affect other runs.
func (p *Pipeline) Run(ctx context.Context, run *Run, gates Gates) error {
	if !run.begin() {
		return ErrBeatBusy
	}
	defer run.end()

	return p.advance(ctx, run, gates, -1)
}

// advance runs planned, unfinished stages with an ordinal above after.
func (p *Pipeline) advance(ctx context.Context, run *Run, gates Gates, after int) error {
	plan := run.Plan()
	for _, stage := range model.Stages {
		if stage.Ordinal() <= after || !plan.Includes(stage) || run.Succeeded(stage) {
			continue
		}
		if err := p.runStage(ctx, run, stage, gates); err != nil {
			return err
		}
	}
	return nil
}

// RetryOptions adjust a stage retry.
type RetryOptions struct {
	// Prompt replaces the image prompt (image stage) or the video prompt
	// override (video stage). Empty keeps the current prompt.
	Prompt string
	// Continue runs the remaining planned stages after a successful retry.
	Continue bool
}

// Retry re-runs one stage of a beat from its retained inputs. Earlier
// stages are never re-run; later stages are reset to pending because their
// artifacts no longer match.
func (p *Pipeline) Retry(ctx context.Context, run *Run, stage model.Stage, gates Gates, opts RetryOptions) error {
	if stage.Ordinal() < 0 {
		return ErrUnknownStage
	}
	if !run.begin() {
		return ErrBeatBusy
	}
	defer run.end()

	if err := p.checkInputs(run, stage); err != nil {
		return fmt.Errorf("%w: %v", ErrStageBlocked, err)
	}

	run.mu.Lock()
	run.plan.set(stage, true)
	if opts.Prompt != "" {
		switch stage {
		case model.StageImage:
			run.beat.ImagePrompt = opts.Prompt
		case model.StageVideo:
			run.promptOverride = opts.Prompt
		}
	}
	run.mu.Unlock()

	run.resetFrom(stage)

	if err := p.runStage(ctx, run, stage, gates); err != nil {
		return err
	}
	if opts.Continue {
		return p.advance(ctx, run, gates, stage.Ordinal())
	}
	return nil
}

// RetryPose re-runs pose extraction only.
func (p *Pipeline) RetryPose(ctx context.Context, run *Run, gates Gates, opts RetryOptions) error {
	return p.Retry(ctx, run, model.StagePose, gates, opts)
}

// RetryImageSynthesis re-runs image synthesis from the retained pose guide.
func (p *Pipeline) RetryImageSynthesis(ctx context.Context, run *Run, gates Gates, opts RetryOptions) error {
	return p.Retry(ctx, run, model.StageImage, gates, opts)
}

// RetryVideo re-runs animation from the retained still.
func (p *Pipeline) RetryVideo(ctx context.Context, run *Run, gates Gates, opts RetryOptions) error {
	return p.Retry(ctx, run, model.StageVideo, gates, opts)
}

// RetrySound re-runs sound effects from the retained clip.
func (p *Pipeline) RetrySound(ctx context.Context, run *Run, gates Gates, opts RetryOptions) error {
	return p.Retry(ctx, run, model.StageSound, gates, opts)
}

// checkInputs verifies the inputs a stage consumes are present.
func (p *Pipeline) checkInputs(run *Run, stage model.Stage) error {
	run.mu.Lock()
	defer run.mu.Unlock()

	switch stage {
	case model.StagePose:
		if run.beat.CapturedImage == "" {
			return inputError(stage, "captured image is required")
		}
	case model.StageImage:
		if run.pose.IsZero() {
			return inputError(stage, "pose guide is required")
		}
		if run.shared.Character == nil || run.shared.Character.RenderedImage == "" {
			return inputError(stage, "character reference image is required")
		}
		if run.beat.ImagePrompt == "" {
			return inputError(stage, "image prompt is required")
		}
	case model.StageVideo:
		if run.image.IsZero() {
			return inputError(stage, "generated image is required")
		}
	case model.StageSound:
		if run.video.IsZero() {
			return inputError(stage, "generated video is required")
		}
	default:
		return ErrUnknownStage
	}
	return nil
}

func inputError(stage model.Stage, msg string) error {
	return &client.Error{Kind: client.KindInputValidation, Provider: "pipeline", Op: string(stage), Message: msg}
}

// runStage executes one stage and records the outcome on the run.
func (p *Pipeline) runStage(ctx context.Context, run *Run, stage model.Stage, gates Gates) error {
	logger := logging.WithBeat(logging.WithBatchID(p.logger, run.shared.BatchID), run.Index()).With("stage", stage)

	if err := p.checkInputs(run, stage); err != nil {
		p.fail(run, stage, err, logger)
		return err
	}

	run.transition(stage, func(st *model.StageState, b *model.Beat) {
		st.Status = model.StageStatusRunning
		st.Error = ""
		st.ErrorKind = ""
		st.Attempts++
	})

	start := time.Now()
	logger.Info("stage started")

	gate := gates.Image
	if stage == model.StageVideo || stage == model.StageSound {
		gate = gates.Video
	}
	label := fmt.Sprintf("beat_%d_%s", run.Index(), stage)

	err := gate.Do(ctx, label, func(ctx context.Context) error {
		switch stage {
		case model.StagePose:
			return p.pose(ctx, run)
		case model.StageImage:
			return p.synthesize(ctx, run)
		case model.StageVideo:
			return p.animate(ctx, run)
		case model.StageSound:
			return p.addSound(ctx, run)
		}
		return ErrUnknownStage
	})
	if err != nil {
		p.fail(run, stage, err, logger)
		return err
	}

	run.transition(stage, func(st *model.StageState, b *model.Beat) {
		st.Status = model.StageStatusSucceeded
	})
	logger.Info("stage succeeded", "duration", time.Since(start).String())
	return nil
}

func (p *Pipeline) fail(run *Run, stage model.Stage, err error, logger *slog.Logger) {
	logger.Warn("stage failed", "error", err, "kind", client.KindOf(err))
	run.transition(stage, func(st *model.StageState, b *model.Beat) {
		st.Status = model.StageStatusFailed
		st.Error = err.Error()
		st.ErrorKind = string(client.KindOf(err))
	})
}

func (p *Pipeline) pose(ctx context.Context, run *Run) error {
	if p.providers.Pose == nil {
		return inputError(model.StagePose, "no pose provider configured")
	}
	run.mu.Lock()
	captured := client.ParseMedia(run.beat.CapturedImage)
	run.mu.Unlock()

	res, err := p.providers.Pose.PreprocessPose(ctx, captured)
	if err != nil {
		return err
	}

	debug := p.opts.Debug || run.shared.Debug
	handle := res.Payload.Media.String()
	if debug {
		if handle, err = p.store(ctx, run, "pose", 0, res.Payload.Media); err != nil {
			return err
		}
	}

	run.mu.Lock()
	run.pose = res.Payload.Media
	if debug {
		run.beat.PoseImage = handle
	} else {
		run.beat.PoseImage = ""
	}
	run.mu.Unlock()
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, run *Run) error {
	if p.providers.Images == nil {
		return inputError(model.StageImage, "no image provider configured")
	}

	run.mu.Lock()
	shared := run.shared
	style := ""
	styleRef := client.Media{}
	if shared.Style != nil {
		style = shared.Style.StyleParagraph
		styleRef = client.ParseMedia(shared.Style.ReferenceImage)
	}
	req := client.SynthesisRequest{
		Prompt:          AssemblePrompt(run.beat.ImagePrompt, style),
		ReferenceImages: ReferenceImages(run.pose, client.ParseMedia(shared.Character.RenderedImage), styleRef),
		Width:           p.opts.ImageWidth,
		Height:          p.opts.ImageHeight,
	}
	run.mu.Unlock()

	res, err := p.providers.Images.SynthesizeImage(ctx, req)
	if err != nil {
		return err
	}

	handle, err := p.store(ctx, run, "image", 0, res.Payload.Media)
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.image = res.Payload.Media
	run.beat.GeneratedImage = handle
	run.mu.Unlock()
	return nil
}

func (p *Pipeline) animate(ctx context.Context, run *Run) error {
	if p.providers.Animator == nil {
		return inputError(model.StageVideo, "no video provider configured")
	}

	v := p.opts.Video
	run.mu.Lock()
	req := client.AnimationRequest{
		Image:           run.image,
		Prompt:          VideoPrompt(v.SystemPrompt, run.promptOverride, run.beat.ActingDirection),
		DurationSeconds: v.DurationSeconds,
		Width:           v.Width,
		Height:          v.Height,
		FPS:             v.FPS,
	}
	run.mu.Unlock()

	res, err := p.providers.Animator.AnimateImage(ctx, req)
	if err != nil {
		return err
	}

	handle, err := p.store(ctx, run, "video", 0, res.Payload.Media)
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.video = res.Payload.Media
	run.beat.VideoArtifact = handle
	run.mu.Unlock()
	return nil
}

func (p *Pipeline) addSound(ctx context.Context, run *Run) error {
	if p.providers.Sound == nil {
		return inputError(model.StageSound, "no sound provider configured")
	}

	s := p.opts.Sound
	run.mu.Lock()
	req := client.SoundRequest{
		Source:          run.video,
		TextPrompt:      s.TextPrompt,
		NegativePrompt:  s.NegativePrompt,
		DurationSeconds: s.DurationSeconds,
		Creativity:      s.Creativity,
		NumSamples:      s.NumSamples,
	}
	run.mu.Unlock()

	res, err := p.providers.Sound.AddSoundEffects(ctx, req)
	if err != nil {
		return err
	}

	handles := make([]string, 0, len(res.Payload))
	for i, asset := range res.Payload {
		handle, err := p.store(ctx, run, "sound_video", i+1, asset.Media)
		if err != nil {
			return err
		}
		handles = append(handles, handle)
	}

	run.mu.Lock()
	run.beat.SoundArtifacts = handles
	run.mu.Unlock()
	return nil
}

// store hands an artifact to the sink under a name unique to the batch and
// beat. Without a sink the provider handle is kept.
func (p *Pipeline) store(ctx context.Context, run *Run, kind string, sample int, media client.Media) (string, error) {
	if p.sink == nil {
		return media.String(), nil
	}
	name := ArtifactName(run.shared.Prefix, kind, run.Index(), sample, extensionFor(kind, media))
	handle, err := p.sink.Store(ctx, name, media)
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", name, err)
	}
	return handle, nil
}

// ArtifactName builds "<prefix>_<kind>_<NN>[_<k>]<ext>" with a one-based,
// zero-padded beat number.
func ArtifactName(prefix, kind string, index, sample int, ext string) string {
	name := fmt.Sprintf("%s_%02d", kind, index+1)
	if sample > 0 {
		name = fmt.Sprintf("%s_%d", name, sample)
	}
	if prefix != "" {
		name = prefix + "_" + name
	}
	return name + ext
}

func extensionFor(kind string, media client.Media) string {
	switch kind {
	case "video", "sound_video":
		return ".mp4"
	}
	if media.MIMEType != "" {
		return client.ExtensionForMIMEType(media.MIMEType)
	}
	return ".png"
}
