package client

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MediaKind tags how a media reference is encoded.
type MediaKind string

const (
	MediaUUID    MediaKind = "uuid"
	MediaDataURI MediaKind = "data_uri"
	MediaBase64  MediaKind = "base64"
	MediaURL     MediaKind = "url"
	MediaBytes   MediaKind = "bytes"
)

// Media is an image, video or audio reference in one of the encodings the
// providers accept: an identifier of a previously uploaded asset, a data URI,
// raw base64, a remote URL or raw bytes held in memory.
type Media struct {
	Kind     MediaKind
	Value    string
	Data     []byte
	MIMEType string
}

// Asset is a generated artifact as returned by a provider.
type Asset struct {
	UUID  string
	Media Media
}

// ParseMedia detects the encoding of a reference received as a string.
func ParseMedia(s string) Media {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Media{}
	case strings.HasPrefix(s, "data:"):
		return Media{Kind: MediaDataURI, Value: s, MIMEType: dataURIMIMEType(s)}
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return Media{Kind: MediaURL, Value: s}
	}
	if _, err := uuid.Parse(s); err == nil {
		return Media{Kind: MediaUUID, Value: s}
	}
	return Media{Kind: MediaBase64, Value: s}
}

// MediaFromBytes wraps raw bytes with their MIME type.
func MediaFromBytes(data []byte, mimeType string) Media {
	return Media{Kind: MediaBytes, Data: data, MIMEType: mimeType}
}

// MediaFromFile reads a local file into a bytes reference.
func MediaFromFile(path string) (Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Media{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return MediaFromBytes(data, MIMETypeForPath(path)), nil
}

// MIMETypeForPath guesses the content type from a file extension.
func MIMETypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "image/jpeg"
	}
}

// ExtensionForMIMEType is the inverse of MIMETypeForPath.
func ExtensionForMIMEType(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}

func (m Media) IsZero() bool {
	return m.Kind == "" || (m.Value == "" && len(m.Data) == 0)
}

// IsRemote reports whether the payload must be fetched before use.
func (m Media) IsRemote() bool {
	return m.Kind == MediaURL
}

// WireValue renders the reference as a single string for JSON task payloads.
// Raw bytes are inlined as a data URI.
func (m Media) WireValue() string {
	if m.Kind == MediaBytes {
		return toDataURI(m.Data, m.mimeOr("image/jpeg"))
	}
	return m.Value
}

// String is the handle stored on beats and in results.
func (m Media) String() string {
	return m.WireValue()
}

// Bytes decodes inline payloads. URL and uploaded-asset references carry no
// bytes and return an error.
func (m Media) Bytes() ([]byte, error) {
	switch m.Kind {
	case MediaBytes:
		return m.Data, nil
	case MediaDataURI:
		idx := strings.Index(m.Value, ",")
		if idx < 0 {
			return nil, fmt.Errorf("invalid data URI")
		}
		return base64.StdEncoding.DecodeString(m.Value[idx+1:])
	case MediaBase64:
		return base64.StdEncoding.DecodeString(m.Value)
	default:
		return nil, fmt.Errorf("media of kind %q has no inline bytes", m.Kind)
	}
}

// ContentType returns the known or guessed MIME type.
func (m Media) ContentType(fallback string) string {
	return m.mimeOr(fallback)
}

func (m Media) mimeOr(fallback string) string {
	if m.MIMEType != "" {
		return m.MIMEType
	}
	return fallback
}

func toDataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func dataURIMIMEType(s string) string {
	rest := strings.TrimPrefix(s, "data:")
	if idx := strings.IndexAny(rest, ";,"); idx >= 0 {
		return rest[:idx]
	}
	return ""
}
