package recorder

import (
	"context"
	"time"
)

// LienStore persists liens. Uniqueness on recording number makes
// insert-on-conflict the de-duplication mechanism.
type LienStore interface {
	// UpsertLien inserts the lien or, if the recording number already
	// exists, returns the existing row with created=false.
	UpsertLien(ctx context.Context, lien PersistedLien) (PersistedLien, bool, error)
	GetLien(ctx context.Context, recordingNumber string) (PersistedLien, error)
	ListByStatus(ctx context.Context, status LienStatus) ([]PersistedLien, error)
	UpdateStatus(ctx context.Context, recordingNumber string, status LienStatus) error
	// MarkSynced records the downstream id and flips the lien to synced.
	MarkSynced(ctx context.Context, recordingNumber string, downstreamID string) error
	// MarkStaleBefore ages out pending liens older than the cutoff.
	MarkStaleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunStore persists automation and county run audit records.
type RunStore interface {
	CreateRun(ctx context.Context, trigger RunTrigger, startedAt time.Time) (AutomationRun, error)
	CompleteRun(ctx context.Context, runID int64, status RunStatus, errText string, found, synced int, finishedAt time.Time) error
	CreateCountyRun(ctx context.Context, runID, countyID int64, startedAt time.Time) (CountyRun, error)
	CompleteCountyRun(ctx context.Context, countyRunID int64, status RunStatus, errText string, found, processed int, finishedAt time.Time) error
	LatestRun(ctx context.Context) (AutomationRun, error)
	ListRuns(ctx context.Context, limit int) ([]AutomationRun, error)
	ListCountyRuns(ctx context.Context, runID int64) ([]CountyRun, error)
}

// CountyStore reads scrape targets and their platforms.
type CountyStore interface {
	ListActiveCounties(ctx context.Context) ([]County, error)
	GetPlatform(ctx context.Context, id int64) (Platform, error)
}

// ReviewStore persists the set of records blocking delivery so it survives
// a restart.
type ReviewStore interface {
	Stash(ctx context.Context, runID int64, liens []PersistedLien) error
	List(ctx context.Context) ([]PersistedLien, error)
	Clear(ctx context.Context) ([]PersistedLien, error)
}

// ScheduleStore persists the single mutable automation schedule.
type ScheduleStore interface {
	GetSchedule(ctx context.Context) (Schedule, error)
	PutSchedule(ctx context.Context, s Schedule) error
}

// PdfStore is content-addressed storage for downloaded PDFs.
type PdfStore interface {
	Store(ctx context.Context, content []byte, recordingNumber string) (StoredPdf, error)
	Get(ctx context.Context, id string) ([]byte, StoredPdf, error)
	Redownload(ctx context.Context, recordingNumber string) (StoredPdf, error)
}

// Scraper drives one county's website for one run.
type Scraper interface {
	// Initialize launches the browser session. It retries internally and
	// surfaces an error only after all attempts fail.
	Initialize(ctx context.Context) error
	// Scrape runs the search/collect/process state machine and returns
	// every lien successfully produced.
	Scrape(ctx context.Context, from, to time.Time, limit int) ([]ScrapedLien, error)
	// Cleanup closes the session. Idempotent.
	Cleanup()
}

// Syncer delivers verified liens to the downstream tabular store.
type Syncer interface {
	Sync(ctx context.Context, liens []PersistedLien) (SyncReport, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
