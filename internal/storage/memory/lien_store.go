// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// LienStore keeps liens in a map keyed by recording number.
type LienStore struct {
	mu    sync.RWMutex
	liens map[string]recorder.PersistedLien
}

// NewLienStore constructs an empty LienStore.
func NewLienStore() *LienStore {
	return &LienStore{liens: make(map[string]recorder.PersistedLien)}
}

// UpsertLien inserts the lien or returns the existing row with created=false.
func (s *LienStore) UpsertLien(_ context.Context, lien recorder.PersistedLien) (recorder.PersistedLien, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.liens[lien.RecordingNumber]; ok {
		return existing, false, nil
	}
	s.liens[lien.RecordingNumber] = lien
	return lien, true, nil
}

// GetLien fetches one lien by recording number.
func (s *LienStore) GetLien(_ context.Context, recordingNumber string) (recorder.PersistedLien, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lien, ok := s.liens[recordingNumber]
	if !ok {
		return recorder.PersistedLien{}, recorder.ErrNotFound
	}
	return lien, nil
}

// ListByStatus returns liens in the given status, oldest first.
func (s *LienStore) ListByStatus(_ context.Context, status recorder.LienStatus) ([]recorder.PersistedLien, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []recorder.PersistedLien
	for _, lien := range s.liens {
		if lien.Status == status {
			out = append(out, lien)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateStatus flips one lien's status.
func (s *LienStore) UpdateStatus(_ context.Context, recordingNumber string, status recorder.LienStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lien, ok := s.liens[recordingNumber]
	if !ok {
		return recorder.ErrNotFound
	}
	lien.Status = status
	s.liens[recordingNumber] = lien
	return nil
}

// MarkSynced records the downstream id and flips the lien to synced.
func (s *LienStore) MarkSynced(_ context.Context, recordingNumber string, downstreamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lien, ok := s.liens[recordingNumber]
	if !ok {
		return recorder.ErrNotFound
	}
	lien.Status = recorder.LienStatusSynced
	lien.DownstreamID = &downstreamID
	s.liens[recordingNumber] = lien
	return nil
}

// MarkStaleBefore ages out pending liens created before the cutoff.
func (s *LienStore) MarkStaleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, lien := range s.liens {
		if lien.Status == recorder.LienStatusPending && lien.CreatedAt.Before(cutoff) {
			lien.Status = recorder.LienStatusStale
			s.liens[key] = lien
			n++
		}
	}
	return n, nil
}

var _ recorder.LienStore = (*LienStore)(nil)
