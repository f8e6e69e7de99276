package pipeline

import (
	"sync"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
)

// Plan selects which stages a beat runs.
type Plan struct {
	Pose  bool
	Image bool
	Video bool
	Sound bool
}

// FullPlan runs every stage; sound only when addSound is set.
func FullPlan(addSound bool) Plan {
	return Plan{Pose: true, Image: true, Video: true, Sound: addSound}
}

// PlanFor builds a plan from an explicit stage list. An empty list means
// the full plan.
func PlanFor(stages []model.Stage, addSound bool) Plan {
	if len(stages) == 0 {
		return FullPlan(addSound)
	}
	var p Plan
	for _, s := range stages {
		p.set(s, true)
	}
	if addSound && p.Video {
		p.Sound = true
	}
	return p
}

// Includes reports whether stage is part of the plan.
func (p Plan) Includes(stage model.Stage) bool {
	switch stage {
	case model.StagePose:
		return p.Pose
	case model.StageImage:
		return p.Image
	case model.StageVideo:
		return p.Video
	case model.StageSound:
		return p.Sound
	}
	return false
}

func (p *Plan) set(stage model.Stage, on bool) {
	switch stage {
	case model.StagePose:
		p.Pose = on
	case model.StageImage:
		p.Image = on
	case model.StageVideo:
		p.Video = on
	case model.StageSound:
		p.Sound = on
	}
}

// Shared is the story-level context every beat of a batch reads. It must
// not be modified once the batch starts.
type Shared struct {
	BatchID   string
	Prefix    string
	Character *model.CharacterProfile
	Style     *model.StyleProfile
	// Debug keeps pose guides for this batch regardless of Options.Debug.
	Debug bool
}

// BeatInput is the caller-supplied content of one beat.
type BeatInput struct {
	ActingDirection string
	ImagePrompt     string
	StoryText       string
	CapturedImage   string
	// GeneratedImage lets a batch start at the video stage with an existing still.
	GeneratedImage string
	PromptOverride string
}

// ChangeFunc observes stage transitions of a run.
type ChangeFunc func(stage model.Stage, state model.StageState, beat model.Beat)

// Run is the state of one beat moving through the stages. Intermediate
// provider outputs are kept so any stage can be re-run on its own.
type Run struct {
	mu             sync.Mutex
	beat           model.Beat
	plan           Plan
	shared         *Shared
	promptOverride string
	active         bool

	pose  client.Media
	image client.Media
	video client.Media

	onChange ChangeFunc
}

// NewRun prepares beat index for the given plan.
func NewRun(index int, in BeatInput, plan Plan, shared *Shared) *Run {
	if shared == nil {
		shared = &Shared{}
	}
	r := &Run{
		beat: model.Beat{
			ID:              index,
			ActingDirection: in.ActingDirection,
			ImagePrompt:     in.ImagePrompt,
			StoryText:       in.StoryText,
			CapturedImage:   in.CapturedImage,
			Status:          model.BeatStatusPending,
		},
		plan:           plan,
		shared:         shared,
		promptOverride: in.PromptOverride,
	}

	for _, stage := range model.Stages {
		st := r.beat.Stages.Get(stage)
		st.Status = model.StageStatusPending
		if !plan.Includes(stage) {
			st.Status = model.StageStatusSkipped
		}
	}

	if in.GeneratedImage != "" {
		r.image = client.ParseMedia(in.GeneratedImage)
		r.beat.GeneratedImage = in.GeneratedImage
		if !plan.Image {
			r.beat.Stages.Image.Status = model.StageStatusSucceeded
		}
	}
	return r
}

// Index returns the beat's position in its batch.
func (r *Run) Index() int {
	return r.beat.ID
}

// Plan returns the stages this run executes.
func (r *Run) Plan() Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan
}

// SetObserver registers fn to be called after every stage transition.
func (r *Run) SetObserver(fn ChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Snapshot returns a copy of the beat safe to hand to other goroutines.
func (r *Run) Snapshot() model.Beat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() model.Beat {
	b := r.beat
	if r.beat.SoundArtifacts != nil {
		b.SoundArtifacts = append([]string(nil), r.beat.SoundArtifacts...)
	}
	return b
}

// Terminal reports whether the run is idle in done or error.
func (r *Run) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.active && (r.beat.Status == model.BeatStatusDone || r.beat.Status == model.BeatStatusError)
}

// Succeeded reports whether stage finished successfully.
func (r *Run) Succeeded(stage model.Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beat.Stages.Get(stage).Status == model.StageStatusSucceeded
}

// begin marks the run active; it fails when another call is driving it.
func (r *Run) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return false
	}
	r.active = true
	r.refreshStatusLocked()
	return true
}

func (r *Run) end() {
	r.mu.Lock()
	r.active = false
	r.refreshStatusLocked()
	r.mu.Unlock()
}

// transition applies mutate to the stage state under the lock and notifies
// the observer with the resulting snapshot.
func (r *Run) transition(stage model.Stage, mutate func(st *model.StageState, b *model.Beat)) {
	r.mu.Lock()
	st := r.beat.Stages.Get(stage)
	mutate(st, &r.beat)
	r.refreshStatusLocked()
	state := *st
	snap := r.snapshotLocked()
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(stage, state, snap)
	}
}

// refreshStatusLocked derives the beat status from its stages.
func (r *Run) refreshStatusLocked() {
	allDone := true
	for _, stage := range model.Stages {
		st := r.beat.Stages.Get(stage)
		switch st.Status {
		case model.StageStatusFailed:
			r.beat.Status = model.BeatStatusError
			r.beat.LastError = st.Error
			return
		case model.StageStatusSucceeded, model.StageStatusSkipped:
		default:
			allDone = false
		}
	}

	r.beat.LastError = ""
	switch {
	case r.active:
		r.beat.Status = model.BeatStatusProcessing
	case allDone && r.beat.GeneratedImage != "":
		r.beat.Status = model.BeatStatusDone
	default:
		r.beat.Status = model.BeatStatusPending
	}
}

// resetFrom returns every planned stage after stage to pending and drops
// the artifacts they produced.
func (r *Run) resetFrom(stage model.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range model.Stages[stage.Ordinal()+1:] {
		if !r.plan.Includes(s) {
			continue
		}
		st := r.beat.Stages.Get(s)
		st.Status = model.StageStatusPending
		st.Error = ""
		st.ErrorKind = ""
		switch s {
		case model.StageImage:
			r.image = client.Media{}
			r.beat.GeneratedImage = ""
		case model.StageVideo:
			r.video = client.Media{}
			r.beat.VideoArtifact = ""
		case model.StageSound:
			r.beat.SoundArtifacts = nil
		}
	}
	r.refreshStatusLocked()
}
