package model

import "time"

// VideoResult is the per-beat entry of a batch result.
type VideoResult struct {
	Index         int    `json:"index"`
	ImageFilename string `json:"image_filename,omitempty"`
	VideoFilename string `json:"video_filename,omitempty"`
	VideoPath     string `json:"video_path,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	ModelUsed     string `json:"model_used,omitempty"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// SoundResult is reported only for beats whose video succeeded.
type SoundResult struct {
	Index           int      `json:"index"`
	VideoPath       string   `json:"video_path,omitempty"`
	SoundVideoPaths []string `json:"sound_video_paths,omitempty"`
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
}

// ImageResult is the storyboard entry of a batch that synthesized images.
type ImageResult struct {
	Index     int    `json:"index"`
	PoseImage string `json:"pose_image,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the aggregate outcome of a batch.
type BatchResult struct {
	ImageResults     []ImageResult `json:"image_results,omitempty"`
	SuccessfulImages *int          `json:"successful_images,omitempty"`
	VideoResults     []VideoResult `json:"video_results"`
	SuccessfulVideos int           `json:"successful_videos"`
	TotalVideos      int           `json:"total_videos"`
	SoundResults     []SoundResult `json:"sound_results,omitempty"`
	SuccessfulSounds *int          `json:"successful_sounds,omitempty"`
}

// BatchOptions are the per-batch knobs a caller may set.
type BatchOptions struct {
	AddSound     bool   `json:"addSound"`
	MaxWorkers   int    `json:"maxWorkers,omitempty" validate:"omitempty,min=1,max=16"`
	ImageWorkers int    `json:"imageWorkers,omitempty" validate:"omitempty,min=1,max=16"`
	Debug        bool   `json:"debug"`
	OutputPrefix string `json:"outputPrefix,omitempty" validate:"omitempty,max=64"`
}

// BatchView is the status of a batch as returned by the API.
type BatchView struct {
	ID           string       `json:"batchId"`
	StoryID      string       `json:"storyId,omitempty"`
	Status       BatchStatus  `json:"status"`
	TotalCount   int          `json:"totalCount"`
	SuccessCount int          `json:"successCount"`
	Beats        []Beat       `json:"beats"`
	Result       *BatchResult `json:"result,omitempty"`
	Story        *StoryView   `json:"story,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}
