package client

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/makeastory/api/internal/config"
)

const groqProvider = "groq"

// GroqClient is the fallback text generator (OpenAI-compatible chat API).
type GroqClient struct {
	http    *transport
	baseURL string
	apiKey  string
	model   string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []ChatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, logger *slog.Logger) *GroqClient {
	return &GroqClient{
		http: newTransport(groqProvider, 60*time.Second, map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// GenerateText sends a chat completion request with a system and a user message.
func (c *GroqClient) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	return c.complete(ctx, "generate_text", system, prompt, nil)
}

// GenerateJSON is GenerateText in JSON mode.
func (c *GroqClient) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	text, err := c.complete(ctx, "generate_structure", system, prompt, map[string]string{"type": "json_object"})
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *GroqClient) complete(ctx context.Context, op, system, prompt string, format map[string]string) (string, error) {
	if !c.IsConfigured() {
		return "", validationError(groqProvider, op, "Groq API key is not configured")
	}

	messages := []ChatMessage{{Role: "user", Content: prompt}}
	if system != "" {
		messages = append([]ChatMessage{{Role: "system", Content: system}}, messages...)
	}

	reqBody := ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0.7,
		MaxTokens:      2048,
		ResponseFormat: format,
	}

	body, err := c.http.postJSON(ctx, op, c.baseURL+"/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var chatResp ChatCompletionResponse
	if err := c.http.decode(op, body, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", shapeError(groqProvider, op, []string{"choices"})
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
