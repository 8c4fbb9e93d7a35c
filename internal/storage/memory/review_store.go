package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// ReviewStore keeps the delivery-blocking set in memory.
type ReviewStore struct {
	mu   sync.Mutex
	held map[string]recorder.PersistedLien
}

// NewReviewStore constructs an empty ReviewStore.
func NewReviewStore() *ReviewStore {
	return &ReviewStore{held: make(map[string]recorder.PersistedLien)}
}

// Stash records the liens that blocked a run's delivery.
func (s *ReviewStore) Stash(_ context.Context, _ int64, liens []recorder.PersistedLien) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lien := range liens {
		s.held[lien.RecordingNumber] = lien
	}
	return nil
}

// List returns the liens currently awaiting review, oldest first.
func (s *ReviewStore) List(_ context.Context) ([]recorder.PersistedLien, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Clear empties the review set and returns the rows that were held.
func (s *ReviewStore) Clear(_ context.Context) ([]recorder.PersistedLien, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.snapshot()
	s.held = make(map[string]recorder.PersistedLien)
	return held, nil
}

func (s *ReviewStore) snapshot() []recorder.PersistedLien {
	out := make([]recorder.PersistedLien, 0, len(s.held))
	for _, lien := range s.held {
		out = append(out, lien)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ recorder.ReviewStore = (*ReviewStore)(nil)
