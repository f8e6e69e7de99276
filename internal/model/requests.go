package model

// StructureRequest is the input of POST /api/stories/structure
type StructureRequest struct {
	Theme                string `json:"theme" validate:"required,min=3,max=500"`
	CharacterDescription string `json:"characterDescription" validate:"max=1000"`
	BeatCount            int    `json:"beatCount" validate:"required,min=1,max=24"`
}

// StructureResponse is the output of POST /api/stories/structure
type StructureResponse struct {
	StoryID string `json:"storyId"`
	Title   string `json:"title"`
	Beats   []Beat `json:"beats"`
	Source  string `json:"source"`
}

// StyleRequest is the input of POST /api/stories/style
type StyleRequest struct {
	ReferenceImage string `json:"referenceImage" validate:"required_without=StyleParagraph"`
	StyleParagraph string `json:"styleParagraph" validate:"max=2000"`
}

// GenerateBeat is one beat of a generate request.
type GenerateBeat struct {
	ActingDirection string `json:"actingDirection" validate:"max=1000"`
	ImagePrompt     string `json:"imagePrompt" validate:"max=2000"`
	StoryText       string `json:"storyText" validate:"max=4000"`
	CapturedImage   string `json:"capturedImage"`
	GeneratedImage  string `json:"generatedImage"`
	PromptOverride  string `json:"promptOverride" validate:"max=1000"`
}

// GenerateRequest is the input of POST /api/stories/generate
type GenerateRequest struct {
	StoryID   string            `json:"storyId"`
	Title     string            `json:"title" validate:"max=200"`
	Character *CharacterProfile `json:"character"`
	Style     *StyleProfile     `json:"style"`
	Beats     []GenerateBeat    `json:"beats" validate:"required,min=1,max=24,dive"`
	Stages    []Stage           `json:"stages" validate:"omitempty,dive,oneof=pose image video sound"`
	Options   BatchOptions      `json:"options"`
}

// GenerateResponse is returned with 202 Accepted.
type GenerateResponse struct {
	BatchID string      `json:"batchId"`
	StoryID string      `json:"storyId"`
	Status  BatchStatus `json:"status"`
	Total   int         `json:"total"`
}

// RetryRequest is the input of POST /api/batches/:batchId/beats/:index/retry
type RetryRequest struct {
	Stage    Stage  `json:"stage" validate:"required,oneof=pose image video sound"`
	Prompt   string `json:"prompt" validate:"max=2000"`
	Continue bool   `json:"continue"`
}

// NarrationRequest is the input of POST /api/batches/:batchId/narration
type NarrationRequest struct {
	Voice string `json:"voice" validate:"max=64"`
}

// NarrationResponse is the output of POST /api/batches/:batchId/narration
type NarrationResponse struct {
	Narration string `json:"narration"`
}

// SaveStoryRequest is the input of POST /api/library
type SaveStoryRequest struct {
	Story Story `json:"story" validate:"required"`
}

// HealthResponse reports which providers are configured.
type HealthResponse struct {
	Status    string          `json:"status"`
	Providers map[string]bool `json:"providers"`
}
