package model

import "time"

// CharacterProfile is built once per story and shared read-only by every beat.
type CharacterProfile struct {
	Description   string `json:"description"`
	PoseImage     string `json:"poseImage,omitempty"`
	RenderedImage string `json:"renderedImage"`
}

// StyleProfile is built once per story and shared read-only by every beat.
type StyleProfile struct {
	ReferenceImage string `json:"referenceImage,omitempty"`
	StyleParagraph string `json:"styleParagraph"`
}

// BeatScript is the text triple generated for one beat.
type BeatScript struct {
	ActingDirection string `json:"actingDirection"`
	ImagePrompt     string `json:"imagePrompt"`
	StoryText       string `json:"storyText"`
}

// StoryStructure is the generated skeleton of a story.
type StoryStructure struct {
	Title string       `json:"title"`
	Beats []BeatScript `json:"beats"`
}

// Story is the unit the library persists.
type Story struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Theme     string            `json:"theme"`
	Character *CharacterProfile `json:"character,omitempty"`
	Style     *StyleProfile     `json:"style,omitempty"`
	Beats     []Beat            `json:"beats"`
	Narration string            `json:"narration,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// StorySummary is the list view of a stored story.
type StorySummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Theme     string    `json:"theme"`
	BeatCount int       `json:"beatCount"`
	Cover     string    `json:"cover,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeatView is a beat as presented to the reel player.
type BeatView struct {
	Beat
	BestArtifact string `json:"bestArtifact,omitempty"`
}

// StoryView is the aggregated, ordered presentation of a story.
type StoryView struct {
	ID                 string      `json:"id,omitempty"`
	Title              string      `json:"title"`
	Beats              []BeatView  `json:"beats"`
	Narration          string      `json:"narration,omitempty"`
	StoryboardComplete bool        `json:"storyboardComplete"`
	VideoComplete      bool        `json:"videoComplete"`
	Counts             StoryCounts `json:"counts"`
}

// StoryCounts summarises how far the beats got.
type StoryCounts struct {
	Total  int `json:"total"`
	Images int `json:"images"`
	Videos int `json:"videos"`
	Sounds int `json:"sounds"`
	Failed int `json:"failed"`
}
