package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

const lienColumns = `recording_number, county_id, record_date, debtor, debtor_address,
	creditor, amount, pdf_url, downstream_id, status, created_at`

// LienStore persists liens in Postgres, keyed by recording number.
type LienStore struct {
	pool querier
}

// NewLienStore constructs a LienStore over the shared pool.
func NewLienStore(pool querier) (*LienStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LienStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *LienStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertLien inserts the lien. When the recording number already exists the
// existing row wins and is returned with created=false; a re-scrape never
// clobbers a record that may already be synced.
func (s *LienStore) UpsertLien(ctx context.Context, lien recorder.PersistedLien) (recorder.PersistedLien, bool, error) {
	query := `
		INSERT INTO liens (` + lienColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (recording_number) DO NOTHING
		RETURNING ` + lienColumns + `;
	`
	row := s.pool.QueryRow(ctx, query,
		lien.RecordingNumber,
		lien.CountyID,
		lien.RecordDate,
		lien.Debtor,
		lien.DebtorAddress,
		lien.Creditor,
		lien.Amount,
		lien.PdfURL,
		lien.DownstreamID,
		lien.Status,
		lien.CreatedAt,
	)
	inserted, err := scanLien(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return recorder.PersistedLien{}, false, fmt.Errorf("insert lien: %w", err)
	}
	// Conflict: fetch the row that won.
	existing, err := s.GetLien(ctx, lien.RecordingNumber)
	if err != nil {
		return recorder.PersistedLien{}, false, fmt.Errorf("fetch existing lien: %w", err)
	}
	return existing, false, nil
}

// GetLien fetches one lien by recording number.
func (s *LienStore) GetLien(ctx context.Context, recordingNumber string) (recorder.PersistedLien, error) {
	query := `SELECT ` + lienColumns + ` FROM liens WHERE recording_number = $1;`
	lien, err := scanLien(s.pool.QueryRow(ctx, query, recordingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recorder.PersistedLien{}, recorder.ErrNotFound
		}
		return recorder.PersistedLien{}, fmt.Errorf("get lien: %w", err)
	}
	return lien, nil
}

// ListByStatus returns all liens in the given status, oldest first so
// delivery order is stable.
func (s *LienStore) ListByStatus(ctx context.Context, status recorder.LienStatus) ([]recorder.PersistedLien, error) {
	query := `SELECT ` + lienColumns + ` FROM liens WHERE status = $1 ORDER BY created_at ASC;`
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list liens: %w", err)
	}
	defer rows.Close()

	var liens []recorder.PersistedLien
	for rows.Next() {
		lien, err := scanLien(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lien row: %w", err)
		}
		liens = append(liens, lien)
	}
	return liens, rows.Err()
}

// UpdateStatus flips one lien's status.
func (s *LienStore) UpdateStatus(ctx context.Context, recordingNumber string, status recorder.LienStatus) error {
	query := `UPDATE liens SET status = $1 WHERE recording_number = $2;`
	tag, err := s.pool.Exec(ctx, query, status, recordingNumber)
	if err != nil {
		return fmt.Errorf("update lien status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recorder.ErrNotFound
	}
	return nil
}

// MarkSynced records the downstream id and flips the lien to synced.
func (s *LienStore) MarkSynced(ctx context.Context, recordingNumber string, downstreamID string) error {
	query := `UPDATE liens SET status = $1, downstream_id = $2 WHERE recording_number = $3;`
	tag, err := s.pool.Exec(ctx, query, recorder.LienStatusSynced, downstreamID, recordingNumber)
	if err != nil {
		return fmt.Errorf("mark lien synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recorder.ErrNotFound
	}
	return nil
}

// MarkStaleBefore ages out pending liens created before the cutoff. Returns
// the number of rows flipped.
func (s *LienStore) MarkStaleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE liens SET status = $1 WHERE status = $2 AND created_at < $3;`
	tag, err := s.pool.Exec(ctx, query, recorder.LienStatusStale, recorder.LienStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale liens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLien(row pgx.Row) (recorder.PersistedLien, error) {
	var lien recorder.PersistedLien
	err := row.Scan(
		&lien.RecordingNumber,
		&lien.CountyID,
		&lien.RecordDate,
		&lien.Debtor,
		&lien.DebtorAddress,
		&lien.Creditor,
		&lien.Amount,
		&lien.PdfURL,
		&lien.DownstreamID,
		&lien.Status,
		&lien.CreatedAt,
	)
	return lien, err
}

var _ recorder.LienStore = (*LienStore)(nil)
