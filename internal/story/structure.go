package story

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/model"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/structure.json
var structureSchema string

var structureLoader = gojsonschema.NewStringLoader(structureSchema)

// FieldError is one schema violation.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("story structure is invalid:")
	for _, fe := range e.Errors {
		sb.WriteString(fmt.Sprintf(" %s: %s;", fe.Field, fe.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// ValidateStructure checks raw JSON against the story structure schema.
func ValidateStructure(raw []byte) error {
	result, err := gojsonschema.Validate(structureLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate story structure: %w", err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}

// ParseStructure extracts, validates and decodes a model's structure
// response. Beats beyond beatCount are dropped; a positive beatCount with
// fewer beats returned is an error.
func ParseStructure(text string, beatCount int) (*model.StoryStructure, error) {
	raw := []byte(extractJSON(client.CleanJSONBlock(text)))
	if err := ValidateStructure(raw); err != nil {
		return nil, err
	}

	var s model.StoryStructure
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid story structure JSON: %w", err)
	}
	if beatCount > 0 {
		if len(s.Beats) < beatCount {
			return nil, fmt.Errorf("story structure has %d beats, want %d", len(s.Beats), beatCount)
		}
		s.Beats = s.Beats[:beatCount]
	}
	return &s, nil
}

// extractJSON trims text around the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
