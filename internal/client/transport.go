package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/makeastory/api/internal/logging"
)

// transport is the HTTP plumbing shared by the provider clients. Every
// failure it returns is a classified *Error.
type transport struct {
	httpClient *http.Client
	provider   string
	headers    map[string]string
	logger     *slog.Logger
}

func newTransport(provider string, timeout time.Duration, headers map[string]string, logger *slog.Logger) *transport {
	return &transport{
		httpClient: &http.Client{Timeout: timeout},
		provider:   provider,
		headers:    headers,
		logger:     logging.WithComponent(logger, provider),
	}
}

// postJSON sends a JSON body and returns the raw response body.
func (t *transport) postJSON(ctx context.Context, op, url string, body interface{}, okStatus ...int) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, validationError(t.provider, op, "failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: t.provider, Op: op, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req, op, okStatus...)
}

// get fetches a URL and returns the raw response body.
func (t *transport) get(ctx context.Context, op, url string, okStatus ...int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: t.provider, Op: op, Message: "failed to create request", Err: err}
	}
	return t.do(req, op, okStatus...)
}

// do executes req with the transport's headers. A status outside okStatus
// (any 2xx when empty) is an http_error carrying the raw body.
func (t *transport) do(req *http.Request, op string, okStatus ...int) ([]byte, error) {
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	t.logger.Debug("→ provider request", "op", op, "method", req.Method, "url", req.URL.String())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("✗ provider request failed", "op", op, "method", req.Method, "error", err)
		return nil, t.classifyTransport(req.Context(), op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.classifyTransport(req.Context(), op, fmt.Errorf("failed to read response: %w", err))
	}

	t.logger.Debug("← provider response", "op", op, "status", resp.StatusCode, "body", logging.Truncate(string(respBody), 512))

	if !statusAccepted(resp.StatusCode, okStatus) {
		return nil, &Error{
			Kind:       KindHTTP,
			Provider:   t.provider,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return respBody, nil
}

func (t *transport) classifyTransport(ctx context.Context, op string, err error) *Error {
	kind := KindTransport
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: t.provider, Op: op, Err: err}
}

// decode unmarshals body into out, classifying failures as malformed responses.
func (t *transport) decode(op string, body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		t.logger.Warn("✗ unmarshal error", "op", op, "error", err, "body", logging.Truncate(string(body), 512))
		return &Error{Kind: KindMalformedResponse, Provider: t.provider, Op: op, Body: string(body), Err: err}
	}
	return nil
}

func statusAccepted(status int, okStatus []int) bool {
	if len(okStatus) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range okStatus {
		if s == status {
			return true
		}
	}
	return false
}
