// Package pdfstore implements content-addressed local storage for
// downloaded PDFs plus sidecar metadata.
package pdfstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// SourceFetcher re-acquires a PDF from the original county source. Used by
// Redownload as a just-in-time fallback for evicted entries.
type SourceFetcher interface {
	FetchPdf(ctx context.Context, recordingNumber string) ([]byte, error)
}

// Config captures the parameters for the PDF store.
type Config struct {
	// Dir is the root directory holding one binary file and one JSON
	// sidecar per stored id.
	Dir string
	// Retention is how long entries live before cleanup evicts them.
	Retention time.Duration
	// MinBytes rejects undersized downloads as "no PDF".
	MinBytes int
	// Strict additionally runs a full pdfcpu validation on writes.
	Strict bool
}

// Store is a local filesystem PDF store.
type Store struct {
	cfg     Config
	fetcher SourceFetcher
	clock   recorder.Clock
	logger  *zap.Logger
}

// New creates the store, ensuring the directory exists and is writable.
func New(cfg Config, fetcher SourceFetcher, clock recorder.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("pdf store directory is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1024
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create pdf store directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat pdf store directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("pdf store path %q is not a directory", cfg.Dir)
	}

	testFile := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("pdf store directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &Store{cfg: cfg, fetcher: fetcher, clock: clock, logger: logger}, nil
}

// Store validates the payload, writes content plus sidecar, and runs an
// opportunistic cleanup of expired entries.
func (s *Store) Store(_ context.Context, content []byte, recordingNumber string) (recorder.StoredPdf, error) {
	if err := Validate(content, s.cfg.MinBytes, s.cfg.Strict); err != nil {
		return recorder.StoredPdf{}, err
	}

	id := uuid.NewString()
	meta := recorder.StoredPdf{
		ID:              id,
		Filename:        sanitizeFilename(recordingNumber) + ".pdf",
		RecordingNumber: recordingNumber,
		CreatedAt:       s.clock.Now(),
		Size:            int64(len(content)),
	}

	if err := os.WriteFile(s.contentPath(id), content, 0o600); err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("write pdf content: %w", err)
	}
	sidecar, err := json.Marshal(meta)
	if err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(s.sidecarPath(id), sidecar, 0o600); err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("write sidecar: %w", err)
	}
	metrics.AddPdfStoreBytes(len(content))

	s.cleanupExpired()
	return meta, nil
}

// Get returns the stored content after validating existence and age.
// Anything past the retention window is deleted and reported expired.
func (s *Store) Get(_ context.Context, id string) ([]byte, recorder.StoredPdf, error) {
	meta, err := s.readSidecar(id)
	if err != nil {
		return nil, recorder.StoredPdf{}, err
	}
	if s.expired(meta) {
		s.remove(id)
		return nil, recorder.StoredPdf{}, recorder.ErrPdfExpired
	}
	content, err := os.ReadFile(s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, recorder.StoredPdf{}, recorder.ErrNotFound
		}
		return nil, recorder.StoredPdf{}, fmt.Errorf("read pdf content: %w", err)
	}
	return content, meta, nil
}

// Redownload re-fetches a PDF from the original source for entries that
// were evicted or never captured, and stores the result.
func (s *Store) Redownload(ctx context.Context, recordingNumber string) (recorder.StoredPdf, error) {
	if s.fetcher == nil {
		return recorder.StoredPdf{}, fmt.Errorf("no source fetcher configured: %w", recorder.ErrNotFound)
	}
	content, err := s.fetcher.FetchPdf(ctx, recordingNumber)
	if err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("redownload %s: %w", recordingNumber, err)
	}
	meta, err := s.Store(ctx, content, recordingNumber)
	if err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("store redownloaded pdf: %w", err)
	}
	s.logger.Info("pdf redownloaded from source",
		zap.String("recording_number", recordingNumber),
		zap.String("pdf_id", meta.ID),
	)
	return meta, nil
}

func (s *Store) contentPath(id string) string {
	return filepath.Join(s.cfg.Dir, id+".pdf")
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.cfg.Dir, id+".json")
}

func (s *Store) readSidecar(id string) (recorder.StoredPdf, error) {
	raw, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return recorder.StoredPdf{}, recorder.ErrNotFound
		}
		return recorder.StoredPdf{}, fmt.Errorf("read sidecar: %w", err)
	}
	var meta recorder.StoredPdf
	if err := json.Unmarshal(raw, &meta); err != nil {
		return recorder.StoredPdf{}, fmt.Errorf("decode sidecar %s: %w", id, err)
	}
	return meta, nil
}

func (s *Store) expired(meta recorder.StoredPdf) bool {
	return s.clock.Now().Sub(meta.CreatedAt) > s.cfg.Retention
}

func (s *Store) remove(id string) {
	for _, path := range []string{s.contentPath(id), s.sidecarPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove expired pdf entry",
				zap.String("path", path), zap.Error(err))
		}
	}
}

func (s *Store) cleanupExpired() {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.logger.Warn("pdf store cleanup scan failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		meta, err := s.readSidecar(id)
		if err != nil {
			continue
		}
		if s.expired(meta) {
			s.remove(id)
		}
	}
}

func sanitizeFilename(recordingNumber string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, recordingNumber)
	if cleaned == "" {
		return "document"
	}
	return cleaned
}

var _ recorder.PdfStore = (*Store)(nil)
