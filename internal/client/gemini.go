package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/makeastory/api/internal/config"
	"google.golang.org/api/option"
)

const geminiProvider = "gemini"

// TextGenerator produces free text and JSON documents from prompts.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
	IsConfigured() bool
}

// GeminiClient covers the multimodal model: text, structured output and
// image description through the SDK; image and speech output through the
// REST generateContent endpoint, which exposes response modalities.
type GeminiClient struct {
	sdk         *genai.Client
	http        *transport
	apiKey      string
	baseURL     string
	textModel   string
	imageModel  string
	speechModel string
	voice       string
}

// NewGeminiClient creates a Gemini client. Without an API key the client is
// returned unconfigured and every call fails with an input validation error.
func NewGeminiClient(ctx context.Context, cfg *config.GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	c := &GeminiClient{
		http: newTransport(geminiProvider, 180*time.Second, map[string]string{
			"x-goog-api-key": cfg.APIKey,
		}, logger),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		textModel:   cfg.TextModel,
		imageModel:  cfg.ImageModel,
		speechModel: cfg.SpeechModel,
		voice:       cfg.Voice,
	}
	if cfg.APIKey == "" {
		return c, nil
	}

	sdk, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.sdk = sdk
	return c, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.sdk != nil {
		return c.sdk.Close()
	}
	return nil
}

// GenerateText returns the model's text answer to prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	return c.generate(ctx, "generate_text", system, "", genai.Text(prompt))
}

// GenerateJSON asks for a JSON document in the model's JSON output mode.
func (c *GeminiClient) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	text, err := c.generate(ctx, "generate_structure", system, "application/json", genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// DescribeImage answers prompt about an inline image.
func (c *GeminiClient) DescribeImage(ctx context.Context, prompt string, image Media) (string, error) {
	const op = "describe_image"
	data, err := image.Bytes()
	if err != nil {
		return "", validationError(geminiProvider, op, "image must be inline: %v", err)
	}
	format := strings.TrimPrefix(image.ContentType("image/jpeg"), "image/")
	return c.generate(ctx, op, "", "", genai.ImageData(format, data), genai.Text(prompt))
}

func (c *GeminiClient) generate(ctx context.Context, op, system, mimeType string, parts ...genai.Part) (string, error) {
	if c.sdk == nil {
		return "", validationError(geminiProvider, op, "Gemini API key is not configured")
	}

	model := c.sdk.GenerativeModel(c.textModel)
	model.SetTemperature(0.8)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if mimeType != "" {
		model.ResponseMIMEType = mimeType
	}

	c.http.logger.Debug("→ generate content", "op", op, "model", c.textModel)
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &Error{Kind: KindTransport, Provider: geminiProvider, Op: op, Err: err}
	}

	text, err := extractText(resp)
	if err != nil {
		return "", &Error{Kind: KindUnexpectedShape, Provider: geminiProvider, Op: op, Err: err}
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// CleanJSONBlock removes markdown code block wrappers from JSON
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

type restPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *restInline `json:"inlineData,omitempty"`
}

type restInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerateImage renders an image from a prompt and inline reference images.
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string, refs []Media) (*Result[Asset], error) {
	const op = "generate_image"
	if !c.IsConfigured() {
		return nil, validationError(geminiProvider, op, "Gemini API key is not configured")
	}
	if prompt == "" {
		return nil, validationError(geminiProvider, op, "prompt is required")
	}

	parts := []restPart{{Text: prompt}}
	for i, ref := range refs {
		data, err := ref.Bytes()
		if err != nil {
			return nil, validationError(geminiProvider, op, "reference image %d must be inline: %v", i, err)
		}
		parts = append(parts, restPart{InlineData: &restInline{
			MimeType: ref.ContentType("image/jpeg"),
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{{"role": "user", "parts": parts}},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}

	data, mimeType, field, err := c.generateInline(ctx, op, c.imageModel, payload)
	if err != nil {
		return nil, err
	}
	return &Result[Asset]{
		Payload: Asset{Media: Media{Kind: MediaDataURI, Value: toDataURI(data, mimeType), MIMEType: mimeType}},
		Field:   field,
	}, nil
}

// GenerateSpeech synthesizes narration audio. The provider returns raw PCM;
// the payload is wrapped as a WAV file.
func (c *GeminiClient) GenerateSpeech(ctx context.Context, text, voice string) (*Result[Asset], error) {
	const op = "generate_speech"
	if !c.IsConfigured() {
		return nil, validationError(geminiProvider, op, "Gemini API key is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationError(geminiProvider, op, "text is required")
	}
	if voice == "" {
		voice = c.voice
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{{"parts": []restPart{{Text: text}}}},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]interface{}{
				"voiceConfig": map[string]interface{}{
					"prebuiltVoiceConfig": map[string]string{"voiceName": voice},
				},
			},
		},
	}

	data, mimeType, field, err := c.generateInline(ctx, op, c.speechModel, payload)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToLower(mimeType), "audio/l16") || strings.Contains(mimeType, "pcm") {
		data = wrapPCM(data, pcmRate(mimeType))
		mimeType = "audio/wav"
	}
	return &Result[Asset]{
		Payload: Asset{Media: MediaFromBytes(data, mimeType)},
		Field:   field,
	}, nil
}

// generateInline posts to generateContent and returns the first inline part.
func (c *GeminiClient) generateInline(ctx context.Context, op, model string, payload interface{}) ([]byte, string, string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	body, err := c.http.postJSON(ctx, op, url, payload)
	if err != nil {
		return nil, "", "", err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []map[string]interface{} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := c.http.decode(op, body, &resp); err != nil {
		return nil, "", "", err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return nil, "", "", providerError(geminiProvider, op, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}

	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			encoded, field, ok := firstString(part, inlineDataFields)
			if !ok {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, "", "", &Error{Kind: KindMalformedResponse, Provider: geminiProvider, Op: op, Err: err}
			}
			mimeType, _, _ := firstString(part, inlineMIMEFields)
			return data, mimeType, field, nil
		}
	}
	return nil, "", "", shapeError(geminiProvider, op, inlineDataFields)
}

func pcmRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if strings.HasPrefix(param, "rate=") {
			if n, err := strconv.Atoi(strings.TrimPrefix(param, "rate=")); err == nil {
				return n
			}
		}
	}
	return 24000
}

// wrapPCM prepends a WAV header to 16-bit mono PCM samples.
func wrapPCM(pcm []byte, sampleRate int) []byte {
	const channels, bitsPerSample = 1, 16
	byteRate := sampleRate * channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
