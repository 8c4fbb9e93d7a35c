package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

type fakePdfStore struct {
	stored   map[string][]byte
	storeErr error
	nextID   string
}

func (f *fakePdfStore) Store(_ context.Context, content []byte, recordingNumber string) (recorder.StoredPdf, error) {
	if f.storeErr != nil {
		return recorder.StoredPdf{}, f.storeErr
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[f.nextID] = content
	return recorder.StoredPdf{
		ID:              f.nextID,
		RecordingNumber: recordingNumber,
		Size:            int64(len(content)),
	}, nil
}

func (f *fakePdfStore) Get(_ context.Context, id string) ([]byte, recorder.StoredPdf, error) {
	content, ok := f.stored[id]
	if !ok {
		return nil, recorder.StoredPdf{}, recorder.ErrNotFound
	}
	return content, recorder.StoredPdf{ID: id}, nil
}

func (f *fakePdfStore) Redownload(_ context.Context, _ string) (recorder.StoredPdf, error) {
	return recorder.StoredPdf{}, recorder.ErrNotFound
}

type fakeLienStore struct {
	recorder.LienStore

	rows    map[string]recorder.PersistedLien
	upserts int
}

func (f *fakeLienStore) UpsertLien(_ context.Context, lien recorder.PersistedLien) (recorder.PersistedLien, bool, error) {
	f.upserts++
	if f.rows == nil {
		f.rows = map[string]recorder.PersistedLien{}
	}
	if existing, ok := f.rows[lien.RecordingNumber]; ok {
		return existing, false, nil
	}
	f.rows[lien.RecordingNumber] = lien
	return lien, true, nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestSaveLienWithPdf(t *testing.T) {
	t.Parallel()
	pdfs := &fakePdfStore{nextID: "a1b2c3"}
	liens := &fakeLienStore{}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	base := newBaseScraper(
		recorder.County{ID: 7, Name: "Maricopa", State: "AZ"},
		recorder.ScraperConfig{},
		Deps{
			PdfStore:      pdfs,
			LienStore:     liens,
			PublicBaseURL: "https://feed.example.gov/",
			Clock:         fixedClock{at: now},
			Logger:        zap.NewNop(),
		},
	)

	scraped := recorder.ScrapedLien{
		RecordingNumber: "2026-0012345",
		RecordingDate:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Grantor:         "ACME ROOFING LLC",
		Grantee:         "MARICOPA COUNTY",
		Address:         "123 W MAIN ST",
		Amount:          1523.75,
	}
	row, err := base.SaveLienWithPdf(context.Background(), scraped, pdfPayload(2048))
	require.NoError(t, err)

	require.Equal(t, pdfPayload(2048), pdfs.stored["a1b2c3"], "pdf bytes written before the lien row")
	require.Equal(t, "https://feed.example.gov/pdf/a1b2c3", row.PdfURL,
		"trailing slash on the base url must not double up")
	require.Equal(t, recorder.LienStatusPending, row.Status)
	require.Equal(t, int64(7), row.CountyID)
	require.Equal(t, "ACME ROOFING LLC", row.Debtor)
	require.Equal(t, "MARICOPA COUNTY", row.Creditor)
	require.Equal(t, now, row.CreatedAt)
	require.True(t, row.HasPdf())
}

func TestSaveLienWithPdf_DuplicateKeepsExistingRow(t *testing.T) {
	t.Parallel()
	pdfs := &fakePdfStore{nextID: "first"}
	liens := &fakeLienStore{}
	base := newBaseScraper(
		recorder.County{ID: 7, Name: "Maricopa"},
		recorder.ScraperConfig{},
		Deps{
			PdfStore:      pdfs,
			LienStore:     liens,
			PublicBaseURL: "https://feed.example.gov",
			Clock:         fixedClock{at: time.Now()},
			Logger:        zap.NewNop(),
		},
	)

	scraped := recorder.ScrapedLien{RecordingNumber: "2026-0099999"}
	first, err := base.SaveLienWithPdf(context.Background(), scraped, pdfPayload(2048))
	require.NoError(t, err)

	pdfs.nextID = "second"
	again, err := base.SaveLienWithPdf(context.Background(), scraped, pdfPayload(4096))
	require.NoError(t, err)

	require.Equal(t, 2, liens.upserts)
	require.Equal(t, first.PdfURL, again.PdfURL, "duplicate scrape returns the original row")
}

func TestSaveLienWithPdf_StoreFailureAborts(t *testing.T) {
	t.Parallel()
	pdfs := &fakePdfStore{storeErr: errors.New("disk full")}
	liens := &fakeLienStore{}
	base := newBaseScraper(
		recorder.County{ID: 7, Name: "Maricopa"},
		recorder.ScraperConfig{},
		Deps{
			PdfStore:      pdfs,
			LienStore:     liens,
			PublicBaseURL: "https://feed.example.gov",
			Clock:         fixedClock{at: time.Now()},
			Logger:        zap.NewNop(),
		},
	)

	_, err := base.SaveLienWithPdf(context.Background(), recorder.ScrapedLien{RecordingNumber: "2026-1"}, pdfPayload(2048))
	require.Error(t, err)
	require.Zero(t, liens.upserts, "no lien row without a stored pdf")
}
