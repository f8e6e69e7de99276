package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/makeastory/api/internal/model"
	"github.com/makeastory/api/internal/store"
	"github.com/makeastory/api/internal/story"
)

// LibraryService saves finished stories. It only persists what callers
// hand it; batches are never written implicitly.
type LibraryService struct {
	library store.Library
}

// NewLibraryService wraps a story library.
func NewLibraryService(library store.Library) *LibraryService {
	return &LibraryService{library: library}
}

// Save stores a story, assigning an ID when it has none.
func (s *LibraryService) Save(ctx context.Context, st *model.Story) (*model.Story, error) {
	if strings.TrimSpace(st.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	for i := range st.Beats {
		st.Beats[i].ID = i
	}
	if err := s.library.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Get returns a stored story and its reel view.
func (s *LibraryService) Get(ctx context.Context, id string) (*model.Story, *model.StoryView, error) {
	st, err := s.library.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	view := story.BuildStoryView(st.ID, st.Title, st.Beats, st.Narration)
	return st, &view, nil
}

// List returns story summaries, most recently updated first.
func (s *LibraryService) List(ctx context.Context) ([]model.StorySummary, error) {
	return s.library.List(ctx)
}

// Delete removes a story.
func (s *LibraryService) Delete(ctx context.Context, id string) error {
	return s.library.Delete(ctx, id)
}
