// Package recorder defines core types shared across subsystems.
package recorder

import (
	"time"
)

// LienStatus represents the lifecycle state of a persisted lien.
type LienStatus string

// Lien status values persisted in the lien store.
const (
	LienStatusPending    LienStatus = "pending"
	LienStatusStale      LienStatus = "stale"
	LienStatusPdfFailed  LienStatus = "pdf_failed"
	LienStatusSynced     LienStatus = "synced"
	LienStatusMailerSent LienStatus = "mailer_sent"
)

// RunStatus represents the lifecycle state of an automation run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusNeedsReview RunStatus = "needs_review"
	RunStatusFailed      RunStatus = "failed"
	RunStatusStopped     RunStatus = "stopped"
)

// RunTrigger distinguishes scheduled from operator-initiated runs.
type RunTrigger string

// Run trigger values.
const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
)

// PlatformKind identifies a family of county recorder websites sharing the
// same search/results/detail structure.
type PlatformKind string

// Known platform kinds. Unknown kinds dispatch to the Legacy scraper rather
// than failing the run.
const (
	PlatformLegacy      PlatformKind = "legacy"
	PlatformLandmarkWeb PlatformKind = "landmarkweb"
)

// County is a configured scrape target.
type County struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Active     bool          `json:"active"`
	PlatformID *int64        `json:"platform_id,omitempty"`
	Platform   PlatformKind  `json:"platform,omitempty"`
	Config     ScraperConfig `json:"config"`
}

// Platform holds the default scraping configuration shared by all counties
// on the same website family.
type Platform struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Kind          PlatformKind  `json:"kind"`
	DefaultConfig ScraperConfig `json:"default_config"`
}

// ScrapedLien is the in-memory record produced for each document processed
// during a run. It is consumed immediately by persistence and aggregation.
type ScrapedLien struct {
	RecordingNumber string
	RecordingDate   time.Time
	DocumentURL     string
	ViewerURL       string
	PdfBytes        []byte
	Grantor         string
	Grantee         string
	Address         string
	Amount          float64
}

// PersistedLien is the durable record keyed by its globally unique recording
// number. It is written the instant a PDF is acquired so a crash mid-run
// loses no completed work.
type PersistedLien struct {
	RecordingNumber string     `json:"recording_number"`
	CountyID        int64      `json:"county_id"`
	RecordDate      time.Time  `json:"record_date"`
	Debtor          string     `json:"debtor"`
	DebtorAddress   string     `json:"debtor_address"`
	Creditor        string     `json:"creditor"`
	Amount          float64    `json:"amount"`
	PdfURL          string     `json:"pdf_url"`
	DownstreamID    *string    `json:"downstream_id,omitempty"`
	Status          LienStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HasPdf reports whether the lien carries a usable local PDF reference.
func (l PersistedLien) HasPdf() bool {
	return l.PdfURL != ""
}

// AutomationRun is the append-only audit record of one orchestration pass.
type AutomationRun struct {
	ID          int64      `json:"id"`
	Trigger     RunTrigger `json:"trigger"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	LiensFound  int        `json:"liens_found"`
	LiensSynced int        `json:"liens_synced"`
	CountiesRun int        `json:"counties_run"`
	ErrorText   string     `json:"error_text,omitempty"`
}

// CountyRun is the append-only audit record of one county sub-pass.
type CountyRun struct {
	ID         int64      `json:"id"`
	RunID      int64      `json:"run_id"`
	CountyID   int64      `json:"county_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Found      int        `json:"found"`
	Processed  int        `json:"processed"`
	ErrorText  string     `json:"error_text,omitempty"`
}

// StoredPdf describes one entry in the PDF store. The sidecar written next
// to the binary content carries exactly these fields.
type StoredPdf struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	RecordingNumber string    `json:"recording_number"`
	CreatedAt       time.Time `json:"created_at"`
	Size            int64     `json:"size"`
}

// RunRequest captures the parameters of a start request.
type RunRequest struct {
	Trigger  RunTrigger `json:"trigger"`
	FromDate *time.Time `json:"from_date,omitempty"`
	ToDate   *time.Time `json:"to_date,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// SyncReport summarizes one delivery pass to the downstream store.
type SyncReport struct {
	Submitted int `json:"submitted"`
	Synced    int `json:"synced"`
	Skipped   int `json:"skipped"`
	Dropped   int `json:"dropped"`
}
