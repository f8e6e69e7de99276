package pipeline

import (
	"strings"

	"github.com/makeastory/api/internal/client"
)

// AssemblePrompt joins a beat's image prompt and the story style paragraph
// with a blank line. An empty style leaves the beat prompt unchanged.
func AssemblePrompt(imagePrompt, styleParagraph string) string {
	imagePrompt = strings.TrimSpace(imagePrompt)
	styleParagraph = strings.TrimSpace(styleParagraph)
	if styleParagraph == "" {
		return imagePrompt
	}
	return imagePrompt + "\n\n" + styleParagraph
}

// ReferenceImages returns the synthesis references in their fixed order:
// pose guide, character, then the optional style reference.
func ReferenceImages(pose, character, style client.Media) []client.Media {
	refs := []client.Media{pose, character}
	if !style.IsZero() {
		refs = append(refs, style)
	}
	return refs
}

// VideoPrompt prefixes the animation system prompt to the beat's own
// direction. A non-empty override wins over the acting direction.
func VideoPrompt(systemPrompt, override, actingDirection string) string {
	custom := strings.TrimSpace(override)
	if custom == "" {
		custom = strings.TrimSpace(actingDirection)
	}
	switch {
	case systemPrompt == "":
		return custom
	case custom == "":
		return systemPrompt
	default:
		return systemPrompt + ", " + custom
	}
}
