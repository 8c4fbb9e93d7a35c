package memory

import (
	"context"
	"sync"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// ScheduleStore keeps the automation schedule in memory, starting from the
// default.
type ScheduleStore struct {
	mu       sync.RWMutex
	schedule recorder.Schedule
}

// NewScheduleStore constructs a store holding the default schedule.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{schedule: recorder.DefaultSchedule()}
}

// GetSchedule returns the current schedule.
func (s *ScheduleStore) GetSchedule(_ context.Context) (recorder.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule, nil
}

// PutSchedule validates and saves the schedule.
func (s *ScheduleStore) PutSchedule(_ context.Context, schedule recorder.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
	return nil
}

var _ recorder.ScheduleStore = (*ScheduleStore)(nil)
