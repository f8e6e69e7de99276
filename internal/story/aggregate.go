// Package story turns per-beat pipeline state into batch results and story
// views, and validates generated story structures.
package story

import (
	"net/url"
	"path"
	"strings"

	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/pipeline"
)

// ResultOptions tune BuildBatchResult.
type ResultOptions struct {
	// VideoModel is reported on successful video entries.
	VideoModel string
}

// BuildBatchResult reports every beat of a batch, index-aligned. Sound
// results are only listed for beats whose video succeeded.
func BuildBatchResult(beats []model.Beat, plan pipeline.Plan, opts ResultOptions) model.BatchResult {
	res := model.BatchResult{VideoResults: []model.VideoResult{}}

	if plan.Image {
		res.ImageResults = make([]model.ImageResult, 0, len(beats))
		ok := 0
		for _, b := range beats {
			r := imageResult(b)
			if r.Success {
				ok++
			}
			res.ImageResults = append(res.ImageResults, r)
		}
		res.SuccessfulImages = &ok
	}

	if plan.Video {
		res.VideoResults = make([]model.VideoResult, 0, len(beats))
		for _, b := range beats {
			r := videoResult(b, opts)
			if r.Success {
				res.SuccessfulVideos++
			}
			res.VideoResults = append(res.VideoResults, r)
		}
		res.TotalVideos = len(beats)
	}

	if plan.Sound {
		ok := 0
		for _, b := range beats {
			if b.Stages.Video.Status != model.StageStatusSucceeded {
				continue
			}
			r := soundResult(b)
			if r.Success {
				ok++
			}
			res.SoundResults = append(res.SoundResults, r)
		}
		res.SuccessfulSounds = &ok
	}
	return res
}

func imageResult(b model.Beat) model.ImageResult {
	r := model.ImageResult{Index: b.ID, PoseImage: b.PoseImage}
	if b.Stages.Image.Status == model.StageStatusSucceeded {
		r.Success = true
		r.ImageURL = b.GeneratedImage
		return r
	}
	r.Error = stageError(b, model.StageImage, "image not generated")
	return r
}

func videoResult(b model.Beat, opts ResultOptions) model.VideoResult {
	r := model.VideoResult{Index: b.ID, ImageFilename: baseName(b.GeneratedImage)}
	if r.ImageFilename == "" {
		r.ImageFilename = baseName(b.CapturedImage)
	}
	if b.Stages.Video.Status != model.StageStatusSucceeded {
		r.Error = stageError(b, model.StageVideo, "video not generated")
		return r
	}

	r.Success = true
	r.ModelUsed = opts.VideoModel
	r.VideoFilename = baseName(b.VideoArtifact)
	if isURL(b.VideoArtifact) {
		r.VideoURL = b.VideoArtifact
	} else {
		r.VideoPath = b.VideoArtifact
	}
	return r
}

func soundResult(b model.Beat) model.SoundResult {
	r := model.SoundResult{Index: b.ID, VideoPath: b.VideoArtifact}
	if b.Stages.Sound.Status == model.StageStatusSucceeded {
		r.Success = true
		r.SoundVideoPaths = append([]string(nil), b.SoundArtifacts...)
		return r
	}
	r.Error = stageError(b, model.StageSound, "sound not generated")
	return r
}

// stageError explains why stage has no artifact: its own failure, the
// failure of an earlier stage, or fallback when it simply never ran.
func stageError(b model.Beat, stage model.Stage, fallback string) string {
	if st := b.Stages.Get(stage); st != nil && st.Error != "" {
		return st.Error
	}
	if b.LastError != "" {
		return b.LastError
	}
	return fallback
}

// BuildStoryView orders beats with their best artifact and derives the
// completion flags and counts.
func BuildStoryView(id, title string, beats []model.Beat, narration string) model.StoryView {
	view := model.StoryView{
		ID:                 id,
		Title:              title,
		Beats:              make([]model.BeatView, len(beats)),
		Narration:          narration,
		StoryboardComplete: len(beats) > 0,
		VideoComplete:      len(beats) > 0,
	}

	for i, b := range beats {
		view.Beats[i] = model.BeatView{Beat: b, BestArtifact: b.BestArtifact()}

		view.Counts.Total++
		if b.StoryboardComplete() {
			view.Counts.Images++
		} else {
			view.StoryboardComplete = false
		}
		if b.Stages.Video.Status == model.StageStatusSucceeded {
			view.Counts.Videos++
		} else {
			view.VideoComplete = false
		}
		if len(b.SoundArtifacts) > 0 {
			view.Counts.Sounds++
		}
		if b.Status == model.BeatStatusError {
			view.Counts.Failed++
		}
	}
	return view
}

// NewBeats turns a generated structure into pending beats.
func NewBeats(structure *model.StoryStructure) []model.Beat {
	beats := make([]model.Beat, len(structure.Beats))
	for i, s := range structure.Beats {
		beats[i] = model.Beat{
			ID:              i,
			ActingDirection: s.ActingDirection,
			ImagePrompt:     s.ImagePrompt,
			StoryText:       s.StoryText,
			Status:          model.BeatStatusPending,
		}
	}
	return beats
}

// NarrationScript joins the story text of every beat in order.
func NarrationScript(beats []model.Beat) string {
	parts := make([]string, 0, len(beats))
	for _, b := range beats {
		if t := strings.TrimSpace(b.StoryText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// baseName returns the file name of a path or URL handle. Inline data has
// no name.
func baseName(handle string) string {
	switch {
	case handle == "", strings.HasPrefix(handle, "data:"):
		return ""
	case isURL(handle):
		u, err := url.Parse(handle)
		if err != nil || u.Path == "" || u.Path == "/" {
			return ""
		}
		return path.Base(u.Path)
	case len(handle) > 255:
		// bare base64 payload
		return ""
	case strings.ContainsAny(handle, "/\\"):
		return path.Base(strings.ReplaceAll(handle, "\\", "/"))
	}
	return handle
}
