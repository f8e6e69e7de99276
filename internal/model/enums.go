package model

// Beat status
type BeatStatus string

const (
	BeatStatusPending    BeatStatus = "pending"
	BeatStatusProcessing BeatStatus = "processing"
	BeatStatusDone       BeatStatus = "done"
	BeatStatusError      BeatStatus = "error"
)

// Pipeline stages, in execution order
type Stage string

const (
	StagePose  Stage = "pose"
	StageImage Stage = "image"
	StageVideo Stage = "video"
	StageSound Stage = "sound"
)

// Stages lists every stage in the order a beat runs them.
var Stages = []Stage{StagePose, StageImage, StageVideo, StageSound}

// Ordinal returns the stage position, or -1 for an unknown stage.
func (s Stage) Ordinal() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Stage status
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// Batch status
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
)

// Beat counts offered by the story editor. Any positive count is accepted.
var SuggestedBeatCounts = []int{4, 6, 8}
