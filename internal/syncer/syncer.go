// Package syncer delivers verified liens to the downstream tabular store in
// fixed-size batches.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// batchSize is the downstream API's hard limit per request.
const batchSize = 10

// Config controls the downstream store connection.
type Config struct {
	BaseURL       string
	APIKey        string
	Table         string
	CountyTable   string
	PublicBaseURL string
	Timeout       time.Duration
}

// Service transforms verified liens into the downstream store's batch format
// and reconciles per-record delivery status.
type Service struct {
	cfg      Config
	client   *resty.Client
	liens    recorder.LienStore
	pdfs     recorder.PdfStore
	counties recorder.CountyStore
	logger   *zap.Logger

	mu           sync.Mutex
	countyRecIDs map[int64]string
}

// New builds a Service. The county record-id cache is per-service but cheap
// to rebuild; runs are single-flight so it never races a writer.
func New(cfg Config, liens recorder.LienStore, pdfs recorder.PdfStore, counties recorder.CountyStore, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &Service{
		cfg:          cfg,
		client:       client,
		liens:        liens,
		pdfs:         pdfs,
		counties:     counties,
		logger:       logger,
		countyRecIDs: make(map[int64]string),
	}
}

type attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type recordFields struct {
	RecordNumber  float64      `json:"Record Number"`
	RecordingNo   string       `json:"Recording Number"`
	RecordDate    string       `json:"Record Date,omitempty"`
	Debtor        string       `json:"Debtor,omitempty"`
	DebtorAddress string       `json:"Debtor Address,omitempty"`
	Creditor      string       `json:"Creditor,omitempty"`
	Amount        float64      `json:"Amount,omitempty"`
	Pdf           []attachment `json:"PDF"`
	County        []string     `json:"County,omitempty"`
}

type batchRecord struct {
	Fields recordFields `json:"fields"`
}

type batchRequest struct {
	Records  []batchRecord `json:"records"`
	Typecast bool          `json:"typecast"`
}

type batchResponse struct {
	Records []struct {
		ID string `json:"id"`
	} `json:"records"`
}

// Sync submits the liens in batches of at most 10, marking each delivered
// record synced with its downstream id. A batch failure leaves that batch's
// records in their prior status and surfaces the error.
func (s *Service) Sync(ctx context.Context, liens []recorder.PersistedLien) (recorder.SyncReport, error) {
	report := recorder.SyncReport{}

	var deliverable []recorder.PersistedLien
	for _, lien := range liens {
		if lien.Status == recorder.LienStatusSynced || lien.DownstreamID != nil {
			report.Skipped++
			continue
		}
		resolved, ok := s.resolvePdfRef(ctx, lien)
		if !ok {
			report.Dropped++
			s.logger.Warn("dropping lien with no usable pdf reference",
				zap.String("recording_number", lien.RecordingNumber))
			continue
		}
		deliverable = append(deliverable, resolved)
	}
	if len(deliverable) == 0 {
		if report.Skipped > 0 {
			// Resubmission of an already-delivered set is a no-op, not an error.
			return report, nil
		}
		return report, fmt.Errorf("no records with a usable pdf, aborting sync")
	}

	for start := 0; start < len(deliverable); start += batchSize {
		end := start + batchSize
		if end > len(deliverable) {
			end = len(deliverable)
		}
		batch := deliverable[start:end]
		if err := s.submitBatch(ctx, batch); err != nil {
			metrics.ObserveSyncBatch("failure")
			return report, fmt.Errorf("sync batch %d: %w", start/batchSize+1, err)
		}
		metrics.ObserveSyncBatch("success")
		report.Submitted += len(batch)
		report.Synced += len(batch)
	}
	return report, nil
}

func (s *Service) submitBatch(ctx context.Context, batch []recorder.PersistedLien) error {
	payload := batchRequest{Typecast: true}
	for _, lien := range batch {
		payload.Records = append(payload.Records, batchRecord{Fields: s.buildFields(ctx, lien)})
	}

	var parsed batchResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&parsed).
		Post("/" + s.cfg.Table)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("downstream rejected batch: %s: %s", resp.Status(), resp.String())
	}
	if len(parsed.Records) != len(batch) {
		return fmt.Errorf("downstream returned %d ids for %d records", len(parsed.Records), len(batch))
	}

	for i, lien := range batch {
		if err := s.liens.MarkSynced(ctx, lien.RecordingNumber, parsed.Records[i].ID); err != nil {
			return fmt.Errorf("mark %s synced: %w", lien.RecordingNumber, err)
		}
	}
	metrics.AddSyncedRecords(len(batch))
	return nil
}

func (s *Service) buildFields(ctx context.Context, lien recorder.PersistedLien) recordFields {
	fields := recordFields{
		RecordNumber:  recordingNumberAsNumber(lien.RecordingNumber),
		RecordingNo:   lien.RecordingNumber,
		Debtor:        lien.Debtor,
		DebtorAddress: lien.DebtorAddress,
		Creditor:      lien.Creditor,
		Amount:        lien.Amount,
		Pdf: []attachment{{
			URL:      lien.PdfURL,
			Filename: lien.RecordingNumber + ".pdf",
		}},
	}
	if !lien.RecordDate.IsZero() {
		fields.RecordDate = lien.RecordDate.Format("2006-01-02")
	}
	if recID := s.countyRecordID(ctx, lien.CountyID); recID != "" {
		fields.County = []string{recID}
	}
	return fields
}

// resolvePdfRef applies the PDF reference priority chain: an already-stored
// local PDF URL wins; otherwise a just-in-time redownload from the source is
// attempted and stored; otherwise the record is dropped from this batch.
func (s *Service) resolvePdfRef(ctx context.Context, lien recorder.PersistedLien) (recorder.PersistedLien, bool) {
	if lien.HasPdf() {
		return lien, true
	}
	if s.pdfs != nil {
		stored, err := s.pdfs.Redownload(ctx, lien.RecordingNumber)
		if err == nil {
			lien.PdfURL = fmt.Sprintf("%s/pdf/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), stored.ID)
			return lien, true
		}
		s.logger.Debug("just-in-time redownload failed",
			zap.String("recording_number", lien.RecordingNumber),
			zap.Error(err))
	}
	return lien, false
}

// countyRecordID resolves the downstream record id for a county, cached for
// the lifetime of the service. Lookups are best-effort: a missing link never
// blocks delivery.
func (s *Service) countyRecordID(ctx context.Context, countyID int64) string {
	if s.cfg.CountyTable == "" {
		return ""
	}
	s.mu.Lock()
	if recID, ok := s.countyRecIDs[countyID]; ok {
		s.mu.Unlock()
		return recID
	}
	s.mu.Unlock()

	name := s.countyName(ctx, countyID)
	if name == "" {
		return ""
	}

	var parsed batchResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("filterByFormula", fmt.Sprintf("{Name}='%s'", name)).
		SetResult(&parsed).
		Get("/" + s.cfg.CountyTable)
	if err != nil || resp.IsError() || len(parsed.Records) == 0 {
		s.logger.Debug("county link lookup failed",
			zap.String("county", name),
			zap.Error(err))
		return ""
	}

	recID := parsed.Records[0].ID
	s.mu.Lock()
	s.countyRecIDs[countyID] = recID
	s.mu.Unlock()
	return recID
}

func (s *Service) countyName(ctx context.Context, countyID int64) string {
	if s.counties == nil {
		return ""
	}
	counties, err := s.counties.ListActiveCounties(ctx)
	if err != nil {
		return ""
	}
	for _, county := range counties {
		if county.ID == countyID {
			return county.Name
		}
	}
	return ""
}

// recordingNumberAsNumber strips separators so the downstream numeric field
// accepts the county's formatted recording number.
func recordingNumberAsNumber(recordingNumber string) float64 {
	var digits strings.Builder
	for _, r := range recordingNumber {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0
	}
	return n
}

var _ recorder.Syncer = (*Service)(nil)
