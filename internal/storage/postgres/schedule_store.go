package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// ScheduleStore persists the single mutable automation schedule as one jsonb
// row so operator edits survive a restart.
type ScheduleStore struct {
	pool querier
}

// NewScheduleStore constructs a ScheduleStore over the shared pool.
func NewScheduleStore(pool querier) (*ScheduleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScheduleStore{pool: pool}, nil
}

// GetSchedule returns the stored schedule, or the default when none has been
// saved yet.
func (s *ScheduleStore) GetSchedule(ctx context.Context) (recorder.Schedule, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM schedule WHERE id = 1;`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recorder.DefaultSchedule(), nil
		}
		return recorder.Schedule{}, fmt.Errorf("get schedule: %w", err)
	}
	var schedule recorder.Schedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return recorder.Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	return schedule, nil
}

// PutSchedule validates and saves the schedule.
func (s *ScheduleStore) PutSchedule(ctx context.Context, schedule recorder.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	query := `
		INSERT INTO schedule (id, config)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config;
	`
	if _, err := s.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	return nil
}

var _ recorder.ScheduleStore = (*ScheduleStore)(nil)
