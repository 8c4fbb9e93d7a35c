package pdfstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	content []byte
	err     error
	calls   int
}

func (f *fakeFetcher) FetchPdf(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return f.content, f.err
}

func validPdf(size int) []byte {
	content := make([]byte, size)
	copy(content, "%PDF-1.7\n")
	return content
}

func newTestStore(t *testing.T, clock *fakeClock, fetcher SourceFetcher) *Store {
	t.Helper()
	store, err := New(Config{
		Dir:       t.TempDir(),
		Retention: 24 * time.Hour,
		MinBytes:  64,
	}, fetcher, clock, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStoreWritesContentAndSidecar(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock, nil)

	meta, err := store.Store(context.Background(), validPdf(128), "2026-0012345")
	require.NoError(t, err)
	require.NotEmpty(t, meta.ID)
	require.Equal(t, "2026-0012345", meta.RecordingNumber)
	require.Equal(t, "2026-0012345.pdf", meta.Filename)
	require.Equal(t, int64(128), meta.Size)

	raw, err := os.ReadFile(filepath.Join(store.cfg.Dir, meta.ID+".json"))
	require.NoError(t, err)
	var sidecar recorder.StoredPdf
	require.NoError(t, json.Unmarshal(raw, &sidecar))
	require.Equal(t, meta, sidecar)

	content, got, err := store.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	require.Equal(t, meta, got)
	require.Equal(t, validPdf(128), content)
}

func TestStoreRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	_, err := store.Store(context.Background(), []byte("<html>not a pdf"), "X")
	require.ErrorIs(t, err, recorder.ErrNoPdf)

	_, err = store.Store(context.Background(), validPdf(16), "X")
	require.ErrorIs(t, err, recorder.ErrNoPdf, "undersized payload must be treated as no PDF")
}

func TestGetExpiredEntryIsDeleted(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	meta, err := store.Store(context.Background(), validPdf(128), "OLD-1")
	require.NoError(t, err)

	clock.now = clock.now.Add(25 * time.Hour)
	_, _, err = store.Get(context.Background(), meta.ID)
	require.ErrorIs(t, err, recorder.ErrPdfExpired)

	_, statErr := os.Stat(filepath.Join(store.cfg.Dir, meta.ID+".pdf"))
	require.True(t, os.IsNotExist(statErr), "expired content file should be removed")
}

func TestStoreCleansUpExpiredEntriesOnWrite(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	old, err := store.Store(context.Background(), validPdf(128), "OLD-2")
	require.NoError(t, err)

	clock.now = clock.now.Add(48 * time.Hour)
	_, err = store.Store(context.Background(), validPdf(128), "NEW-1")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(store.cfg.Dir, old.ID+".json"))
	require.True(t, os.IsNotExist(statErr), "write should evict expired sidecars")
}

func TestGetUnknownID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, &fakeClock{now: time.Now()}, nil)
	_, _, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, recorder.ErrNotFound)
}

func TestRedownloadStoresFetchedContent(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{content: validPdf(256)}
	store := newTestStore(t, &fakeClock{now: time.Now()}, fetcher)

	meta, err := store.Redownload(context.Background(), "2026-777")
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls)
	require.Equal(t, "2026-777", meta.RecordingNumber)

	content, _, err := store.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	require.Equal(t, fetcher.content, content)
}

func TestRedownloadSourceFailure(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{err: errors.New("county site down")}
	store := newTestStore(t, &fakeClock{now: time.Now()}, fetcher)

	_, err := store.Redownload(context.Background(), "2026-778")
	require.Error(t, err)
}

func TestValidateHeaderOnly(t *testing.T) {
	t.Parallel()
	require.True(t, LooksLikePdf([]byte("%PDF-1.4 xyz")))
	require.False(t, LooksLikePdf([]byte("PK\x03\x04zip")))
}
