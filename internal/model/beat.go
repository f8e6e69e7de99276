package model

// StageState tracks one stage of one beat.
type StageState struct {
	Status    StageStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
	Attempts  int         `json:"attempts"`
}

// StageStates holds the state of every stage of a beat.
type StageStates struct {
	Pose  StageState `json:"pose"`
	Image StageState `json:"image"`
	Video StageState `json:"video"`
	Sound StageState `json:"sound"`
}

// Get returns a pointer to the state of stage s.
func (s *StageStates) Get(stage Stage) *StageState {
	switch stage {
	case StagePose:
		return &s.Pose
	case StageImage:
		return &s.Image
	case StageVideo:
		return &s.Video
	case StageSound:
		return &s.Sound
	}
	return nil
}

// Beat is one scene of a story and the artifacts generated for it.
// Artifact fields hold handles: a URL, a data URI or a stored file name.
type Beat struct {
	ID              int         `json:"id"`
	ActingDirection string      `json:"actingDirection"`
	ImagePrompt     string      `json:"imagePrompt"`
	StoryText       string      `json:"storyText"`
	CapturedImage   string      `json:"capturedImage,omitempty"`
	PoseImage       string      `json:"poseImage,omitempty"`
	GeneratedImage  string      `json:"generatedImage,omitempty"`
	VideoArtifact   string      `json:"videoArtifact,omitempty"`
	SoundArtifacts  []string    `json:"soundArtifacts,omitempty"`
	Status          BeatStatus  `json:"status"`
	LastError       string      `json:"lastError,omitempty"`
	Stages          StageStates `json:"stages"`
}

// StoryboardComplete reports whether the beat has its still image.
func (b *Beat) StoryboardComplete() bool {
	return b.Stages.Image.Status == StageStatusSucceeded && b.GeneratedImage != ""
}

// BestArtifact returns the most complete artifact: a sound-augmented clip,
// else the silent clip, else the still image.
func (b *Beat) BestArtifact() string {
	if len(b.SoundArtifacts) > 0 {
		return b.SoundArtifacts[0]
	}
	if b.VideoArtifact != "" {
		return b.VideoArtifact
	}
	return b.GeneratedImage
}
