package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// Deps carries the collaborators every platform scraper needs.
type Deps struct {
	Browser       BrowserConfig
	Client        *resty.Client
	PdfStore      recorder.PdfStore
	LienStore     recorder.LienStore
	PublicBaseURL string
	MinPdfBytes   int
	SniffTimeout  time.Duration
	Clock         recorder.Clock
	Logger        *zap.Logger
}

// BaseScraper owns one browser session per run and the PDF acquisition and
// persistence shared by all platform implementations.
type BaseScraper struct {
	county   recorder.County
	cfg      recorder.ScraperConfig
	session  *Session
	acquirer *PdfAcquirer
	deps     Deps
	logger   *zap.Logger
}

// newBaseScraper wires the shared engine for one county.
func newBaseScraper(county recorder.County, cfg recorder.ScraperConfig, deps Deps) *BaseScraper {
	logger := deps.Logger.With(
		zap.String("county", county.Name),
		zap.Int64("county_id", county.ID),
	)
	session := NewSession(deps.Browser, logger)
	return &BaseScraper{
		county:   county,
		cfg:      cfg,
		session:  session,
		acquirer: NewPdfAcquirer(session, deps.Client, cfg, deps.MinPdfBytes, deps.SniffTimeout, logger),
		deps:     deps,
		logger:   logger,
	}
}

// Initialize launches the browser session, retrying internally.
func (b *BaseScraper) Initialize(ctx context.Context) error {
	if err := b.session.Launch(ctx); err != nil {
		return fmt.Errorf("initialize scraper for %s: %w", b.county.Name, err)
	}
	return nil
}

// Cleanup closes the browser session. Idempotent.
func (b *BaseScraper) Cleanup() {
	b.session.Close()
}

// DownloadPdfWithRetry runs the layered acquisition strategy with retries.
func (b *BaseScraper) DownloadPdfWithRetry(ctx context.Context, recordingNumber, viewerURL string) ([]byte, error) {
	return b.acquirer.DownloadWithRetry(ctx, recordingNumber, viewerURL)
}

// SaveLienWithPdf stores the PDF, builds its externally reachable URL, and
// immediately persists the lien with status pending. This single call is
// the durability boundary: nothing downstream of it is required for the
// record to survive a crash.
func (b *BaseScraper) SaveLienWithPdf(ctx context.Context, lien recorder.ScrapedLien, pdf []byte) (recorder.PersistedLien, error) {
	stored, err := b.deps.PdfStore.Store(ctx, pdf, lien.RecordingNumber)
	if err != nil {
		return recorder.PersistedLien{}, fmt.Errorf("store pdf for %s: %w", lien.RecordingNumber, err)
	}

	persisted := recorder.PersistedLien{
		RecordingNumber: lien.RecordingNumber,
		CountyID:        b.county.ID,
		RecordDate:      lien.RecordingDate,
		Debtor:          lien.Grantor,
		DebtorAddress:   lien.Address,
		Creditor:        lien.Grantee,
		Amount:          lien.Amount,
		PdfURL:          b.PdfURL(stored.ID),
		Status:          recorder.LienStatusPending,
		CreatedAt:       b.deps.Clock.Now(),
	}
	row, created, err := b.deps.LienStore.UpsertLien(ctx, persisted)
	if err != nil {
		return recorder.PersistedLien{}, fmt.Errorf("persist lien %s: %w", lien.RecordingNumber, err)
	}
	if !created {
		b.logger.Debug("recording number already persisted, keeping existing row",
			zap.String("recording_number", lien.RecordingNumber))
	}
	return row, nil
}

// SaveLienWithoutPdf persists a record whose PDF could not be acquired with
// status pdf_failed. The row blocks delivery until an operator resolves it.
func (b *BaseScraper) SaveLienWithoutPdf(ctx context.Context, lien recorder.ScrapedLien) (recorder.PersistedLien, error) {
	persisted := recorder.PersistedLien{
		RecordingNumber: lien.RecordingNumber,
		CountyID:        b.county.ID,
		RecordDate:      lien.RecordingDate,
		Debtor:          lien.Grantor,
		DebtorAddress:   lien.Address,
		Creditor:        lien.Grantee,
		Amount:          lien.Amount,
		Status:          recorder.LienStatusPdfFailed,
		CreatedAt:       b.deps.Clock.Now(),
	}
	row, _, err := b.deps.LienStore.UpsertLien(ctx, persisted)
	if err != nil {
		return recorder.PersistedLien{}, fmt.Errorf("persist pdf-failed lien %s: %w", lien.RecordingNumber, err)
	}
	return row, nil
}

// PdfURL builds the externally reachable URL the downstream store fetches.
func (b *BaseScraper) PdfURL(pdfID string) string {
	return fmt.Sprintf("%s/pdf/%s", strings.TrimRight(b.deps.PublicBaseURL, "/"), pdfID)
}

// Config exposes the merged scraper config.
func (b *BaseScraper) Config() recorder.ScraperConfig {
	return b.cfg
}
