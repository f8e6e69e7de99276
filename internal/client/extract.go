package client

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Result is a successful provider call: the payload plus whatever metadata
// the provider reported alongside it.
type Result[T any] struct {
	Payload  T
	Cost     *float64
	Seed     *int64
	TaskUUID string
	// Field names the response field the payload was read from.
	Field string
}

// Providers have shipped the same payload under several names over time;
// each list is tried in order and the first present, non-empty field wins.
var (
	poseFields  = []string{"guideImageURL", "guideImageDataURI", "guideImageBase64Data", "imageURL", "imageDataURI", "imageBase64Data", "outputImageURL"}
	imageFields = []string{"imageURL", "imageDataURI", "imageBase64Data", "outputImageURL", "url"}
	videoFields = []string{"videoURL", "videoDataURI", "outputVideoURL", "url"}

	soundOutputFields = []string{"output_paths", "outputPaths", "output_urls", "outputs"}
	soundJobFields    = []string{"job_id", "jobId", "task_id", "id"}
	assetIDFields     = []string{"customer_asset_id", "customerAssetId", "asset_id", "id"}
	uploadURLFields   = []string{"upload_url", "uploadUrl", "url"}

	// An explicit error field fails the call even next to payload fields.
	// Message fields only explain a body that has no payload.
	soundErrorFields   = []string{"error", "error.message"}
	soundMessageFields = []string{"message", "detail"}

	inlineDataFields = []string{"inlineData.data", "inline_data.data"}
	inlineMIMEFields = []string{"inlineData.mimeType", "inline_data.mime_type"}
)

// lookup resolves a dotted path inside a decoded JSON object.
func lookup(obj map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first non-empty string among fields.
func firstString(obj map[string]interface{}, fields []string) (value, field string, ok bool) {
	for _, f := range fields {
		v, found := lookup(obj, f)
		if !found {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
			return s, f, true
		}
	}
	return "", "", false
}

// firstStringList returns the first non-empty list of strings among fields.
// A bare string is accepted as a one-element list.
func firstStringList(obj map[string]interface{}, fields []string) (values []string, field string, ok bool) {
	for _, f := range fields {
		v, found := lookup(obj, f)
		if !found {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return []string{t}, f, true
			}
		case []interface{}:
			var out []string
			for _, item := range t {
				switch it := item.(type) {
				case string:
					if it != "" {
						out = append(out, it)
					}
				case map[string]interface{}:
					if s, _, ok := firstString(it, []string{"url", "path", "output_path"}); ok {
						out = append(out, s)
					}
				}
			}
			if len(out) > 0 {
				return out, f, true
			}
		}
	}
	return nil, "", false
}

func floatField(obj map[string]interface{}, field string) *float64 {
	v, ok := lookup(obj, field)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return &f
		}
	}
	return nil
}

func intField(obj map[string]interface{}, field string) *int64 {
	f := floatField(obj, field)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

func stringField(obj map[string]interface{}, field string) string {
	s, _, _ := firstString(obj, []string{field})
	return s
}

// assetFrom builds an asset from the first matching payload field.
func assetFrom(obj map[string]interface{}, provider, op string, fields []string, uuidField string) (Asset, string, error) {
	value, field, ok := firstString(obj, fields)
	if !ok {
		return Asset{}, "", shapeError(provider, op, fields)
	}
	media := ParseMedia(value)
	// Raw base64 under a *Base64Data field is never an uploaded identifier.
	if strings.HasSuffix(field, "Base64Data") {
		media = Media{Kind: MediaBase64, Value: value}
	}
	return Asset{UUID: stringField(obj, uuidField), Media: media}, field, nil
}
