// Package storage keeps generated artifacts on local disk or in R2.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/config"
	"github.com/makeastory/api/internal/logging"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Storage persists artifacts under batch-unique names.
type Storage interface {
	// Store copies media under name and returns the handle kept on the beat.
	Store(ctx context.Context, name string, media client.Media) (string, error)
	// Open streams a stored artifact back by name.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Linker is implemented by storage that can hand out temporary download
// links instead of streaming artifacts through the API.
type Linker interface {
	Link(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// New builds the storage selected by cfg.Driver.
func New(cfg *config.StorageConfig, r2 client.StorageClient, logger *slog.Logger) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.OutputDir, nil, logger)
	case "r2":
		if r2 == nil {
			return nil, fmt.Errorf("storage driver r2 requires R2 credentials")
		}
		return NewR2(r2, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Local writes artifacts into one directory.
type Local struct {
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLocal creates dir if needed. httpClient downloads remote artifacts;
// nil uses a client with a five minute timeout.
func NewLocal(dir string, httpClient *http.Client, logger *slog.Logger) (*Local, error) {
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Local{
		dir:        dir,
		httpClient: orDefault(httpClient),
		logger:     logging.WithComponent(logger, "storage"),
	}, nil
}

// Dir returns the output directory.
func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Store(ctx context.Context, name string, media client.Media) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := fetch(ctx, l.httpClient, media)
	if err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	l.logger.Debug("artifact stored", "name", name, "bytes", len(data))
	return path, nil
}

func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// R2 uploads artifacts to an object store under the artifacts/ prefix.
type R2 struct {
	client     client.StorageClient
	httpClient *http.Client
	logger     *slog.Logger
}

// NewR2 wraps an object storage client.
func NewR2(c client.StorageClient, httpClient *http.Client, logger *slog.Logger) *R2 {
	return &R2{
		client:     c,
		httpClient: orDefault(httpClient),
		logger:     logging.WithComponent(logger, "storage"),
	}
}

func (r *R2) Store(ctx context.Context, name string, media client.Media) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := fetch(ctx, r.httpClient, media)
	if err != nil {
		return "", err
	}

	contentType := media.ContentType(client.MIMETypeForPath(name))
	url, err := r.client.Upload(ctx, objectKey(name), bytes.NewReader(data), contentType)
	if err != nil {
		return "", err
	}
	r.logger.Debug("artifact uploaded", "name", name, "bytes", len(data))
	return url, nil
}

func (r *R2) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return r.client.Open(ctx, objectKey(name))
}

// Link returns a presigned URL for name valid for ttl.
func (r *R2) Link(ctx context.Context, name string, ttl time.Duration) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return r.client.GetSignedURL(ctx, objectKey(name), ttl)
}

func objectKey(name string) string {
	return "artifacts/" + name
}

// cleanName rejects anything that is not a plain file name.
func cleanName(name string) (string, error) {
	base := filepath.Base(name)
	if name == "" || base != name || base == "." || base == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return base, nil
}

// fetch returns the bytes of media, downloading remote handles.
func fetch(ctx context.Context, httpClient *http.Client, media client.Media) ([]byte, error) {
	if !media.IsRemote() {
		data, err := media.Bytes()
		if err != nil {
			return nil, fmt.Errorf("failed to decode artifact: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.Value, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to download artifact: status %d: %s", resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func orDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 5 * time.Minute}
}
