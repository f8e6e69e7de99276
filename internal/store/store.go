// Package store persists saved stories for the story library.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/makeastory/api/internal/config"
	"github.com/makeastory/api/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown story IDs.
var ErrNotFound = errors.New("story not found")

// Library saves, lists and deletes stories. The pipeline never uses it
// directly; handlers persist what the pipeline returned.
type Library interface {
	Save(ctx context.Context, story *model.Story) error
	Get(ctx context.Context, id string) (*model.Story, error)
	List(ctx context.Context) ([]model.StorySummary, error)
	Delete(ctx context.Context, id string) error
}

// New opens the library selected by cfg.Driver.
func New(cfg *config.LibraryConfig, redisClient *redis.Client, logger *slog.Logger) (Library, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("library driver redis requires a redis client")
		}
		return NewRedis(redisClient), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown library driver %q", cfg.Driver)
	}
}

// Summarize builds the list entry of a story.
func Summarize(s *model.Story) model.StorySummary {
	sum := model.StorySummary{
		ID:        s.ID,
		Title:     s.Title,
		Theme:     s.Theme,
		BeatCount: len(s.Beats),
		UpdatedAt: s.UpdatedAt,
	}
	for i := range s.Beats {
		if s.Beats[i].GeneratedImage != "" {
			sum.Cover = s.Beats[i].GeneratedImage
			break
		}
	}
	return sum
}

// touch stamps a story before it is written.
func touch(s *model.Story, now time.Time) error {
	if s.ID == "" {
		return fmt.Errorf("story id is required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return nil
}

func sortSummaries(list []model.StorySummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

// Memory keeps stories in process memory.
type Memory struct {
	mu      sync.RWMutex
	stories map[string]model.Story
}

// NewMemory returns an empty in-memory library.
func NewMemory() *Memory {
	return &Memory{stories: make(map[string]model.Story)}
}

func (m *Memory) Save(ctx context.Context, s *model.Story) error {
	if err := touch(s, time.Now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories[s.ID] = *s
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) List(ctx context.Context) ([]model.StorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]model.StorySummary, 0, len(m.stories))
	for _, s := range m.stories {
		s := s
		list = append(list, Summarize(&s))
	}
	sortSummaries(list)
	return list, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[id]; !ok {
		return ErrNotFound
	}
	delete(m.stories, id)
	return nil
}
