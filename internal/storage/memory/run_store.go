package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// RunStore keeps the run audit trail in memory.
type RunStore struct {
	mu         sync.RWMutex
	nextRun    int64
	nextCounty int64
	runs       map[int64]recorder.AutomationRun
	countyRuns map[int64]recorder.CountyRun
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:       make(map[int64]recorder.AutomationRun),
		countyRuns: make(map[int64]recorder.CountyRun),
	}
}

// CreateRun inserts a new automation run in running status.
func (s *RunStore) CreateRun(_ context.Context, trigger recorder.RunTrigger, startedAt time.Time) (recorder.AutomationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun++
	run := recorder.AutomationRun{
		ID:        s.nextRun,
		Trigger:   trigger,
		Status:    recorder.RunStatusRunning,
		StartedAt: startedAt,
	}
	s.runs[run.ID] = run
	return run, nil
}

// CompleteRun finalizes an automation run.
func (s *RunStore) CompleteRun(_ context.Context, runID int64, status recorder.RunStatus, errText string, found, synced int, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return recorder.ErrNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.LiensFound = found
	run.LiensSynced = synced
	run.FinishedAt = &finishedAt
	s.runs[runID] = run
	return nil
}

// CreateCountyRun inserts a county sub-run in running status.
func (s *RunStore) CreateCountyRun(_ context.Context, runID, countyID int64, startedAt time.Time) (recorder.CountyRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCounty++
	countyRun := recorder.CountyRun{
		ID:        s.nextCounty,
		RunID:     runID,
		CountyID:  countyID,
		Status:    recorder.RunStatusRunning,
		StartedAt: startedAt,
	}
	s.countyRuns[countyRun.ID] = countyRun
	if run, ok := s.runs[runID]; ok {
		run.CountiesRun++
		s.runs[runID] = run
	}
	return countyRun, nil
}

// CompleteCountyRun finalizes one county sub-run.
func (s *RunStore) CompleteCountyRun(_ context.Context, countyRunID int64, status recorder.RunStatus, errText string, found, processed int, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	countyRun, ok := s.countyRuns[countyRunID]
	if !ok {
		return recorder.ErrNotFound
	}
	countyRun.Status = status
	countyRun.ErrorText = errText
	countyRun.Found = found
	countyRun.Processed = processed
	countyRun.FinishedAt = &finishedAt
	s.countyRuns[countyRunID] = countyRun
	return nil
}

// LatestRun returns the most recently started run.
func (s *RunStore) LatestRun(ctx context.Context) (recorder.AutomationRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return recorder.AutomationRun{}, err
	}
	if len(runs) == 0 {
		return recorder.AutomationRun{}, recorder.ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]recorder.AutomationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	runs := make([]recorder.AutomationRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListCountyRuns returns one run's county sub-runs in start order.
func (s *RunStore) ListCountyRuns(_ context.Context, runID int64) ([]recorder.CountyRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var countyRuns []recorder.CountyRun
	for _, countyRun := range s.countyRuns {
		if countyRun.RunID == runID {
			countyRuns = append(countyRuns, countyRun)
		}
	}
	sort.Slice(countyRuns, func(i, j int) bool {
		return countyRuns[i].StartedAt.Before(countyRuns[j].StartedAt)
	})
	return countyRuns, nil
}

var _ recorder.RunStore = (*RunStore)(nil)
