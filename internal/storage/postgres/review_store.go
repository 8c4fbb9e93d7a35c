package postgres

import (
	"context"
	"fmt"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// ReviewStore persists the set of records blocking delivery. Keeping it in
// Postgres means a restart cannot silently release a gated batch.
type ReviewStore struct {
	pool querier
}

// NewReviewStore constructs a ReviewStore over the shared pool.
func NewReviewStore(pool querier) (*ReviewStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ReviewStore{pool: pool}, nil
}

// Stash records the recording numbers that blocked a run's delivery.
func (s *ReviewStore) Stash(ctx context.Context, runID int64, liens []recorder.PersistedLien) error {
	query := `
		INSERT INTO review_items (run_id, recording_number)
		VALUES ($1, $2)
		ON CONFLICT (recording_number) DO UPDATE SET run_id = EXCLUDED.run_id;
	`
	for _, lien := range liens {
		if _, err := s.pool.Exec(ctx, query, runID, lien.RecordingNumber); err != nil {
			return fmt.Errorf("stash review item %s: %w", lien.RecordingNumber, err)
		}
	}
	return nil
}

// List returns the full lien rows currently awaiting review.
func (s *ReviewStore) List(ctx context.Context) ([]recorder.PersistedLien, error) {
	query := `
		SELECT ` + lienColumns + `
		FROM liens
		WHERE recording_number IN (SELECT recording_number FROM review_items)
		ORDER BY created_at ASC;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	defer rows.Close()

	var liens []recorder.PersistedLien
	for rows.Next() {
		lien, err := scanLien(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		liens = append(liens, lien)
	}
	return liens, rows.Err()
}

// Clear empties the review set, returning the rows that were held so the
// caller can resubmit them.
func (s *ReviewStore) Clear(ctx context.Context) ([]recorder.PersistedLien, error) {
	held, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM review_items;`); err != nil {
		return nil, fmt.Errorf("clear review items: %w", err)
	}
	return held, nil
}

var _ recorder.ReviewStore = (*ReviewStore)(nil)
