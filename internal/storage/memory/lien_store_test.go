package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

func pendingLien(number string, createdAt time.Time) recorder.PersistedLien {
	return recorder.PersistedLien{
		RecordingNumber: number,
		CountyID:        1,
		PdfURL:          "https://feed.example.gov/pdf/" + number,
		Status:          recorder.LienStatusPending,
		CreatedAt:       createdAt,
	}
}

func TestUpsertLienKeepsFirstWriter(t *testing.T) {
	t.Parallel()
	store := NewLienStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first := pendingLien("2026-1", now)
	_, created, err := store.UpsertLien(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	replay := first
	replay.PdfURL = "https://feed.example.gov/pdf/other"
	got, created, err := store.UpsertLien(ctx, replay)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.PdfURL, got.PdfURL)
}

func TestListByStatusOrdersOldestFirst(t *testing.T) {
	t.Parallel()
	store := NewLienStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, number := range []string{"2026-3", "2026-1", "2026-2"} {
		_, _, err := store.UpsertLien(ctx, pendingLien(number, base.Add(time.Duration(3-i)*time.Minute)))
		require.NoError(t, err)
	}

	liens, err := store.ListByStatus(ctx, recorder.LienStatusPending)
	require.NoError(t, err)
	require.Len(t, liens, 3)
	require.Equal(t, "2026-2", liens[0].RecordingNumber)
	require.Equal(t, "2026-3", liens[2].RecordingNumber)
}

func TestMarkSyncedSetsDownstreamID(t *testing.T) {
	t.Parallel()
	store := NewLienStore()
	ctx := context.Background()

	_, _, err := store.UpsertLien(ctx, pendingLien("2026-1", time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, store.MarkSynced(ctx, "2026-1", "rec-abc"))
	lien, err := store.GetLien(ctx, "2026-1")
	require.NoError(t, err)
	require.Equal(t, recorder.LienStatusSynced, lien.Status)
	require.NotNil(t, lien.DownstreamID)
	require.Equal(t, "rec-abc", *lien.DownstreamID)

	require.ErrorIs(t, store.MarkSynced(ctx, "2026-404", "x"), recorder.ErrNotFound)
}

func TestMarkStaleBeforeSkipsSyncedRows(t *testing.T) {
	t.Parallel()
	store := NewLienStore()
	ctx := context.Background()
	cutoff := time.Now().UTC()

	_, _, err := store.UpsertLien(ctx, pendingLien("old-pending", cutoff.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, _, err = store.UpsertLien(ctx, pendingLien("fresh-pending", cutoff.Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = store.UpsertLien(ctx, pendingLien("old-synced", cutoff.Add(-48*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, store.MarkSynced(ctx, "old-synced", "rec-1"))

	n, err := store.MarkStaleBefore(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stale, err := store.GetLien(ctx, "old-pending")
	require.NoError(t, err)
	require.Equal(t, recorder.LienStatusStale, stale.Status)

	synced, err := store.GetLien(ctx, "old-synced")
	require.NoError(t, err)
	require.Equal(t, recorder.LienStatusSynced, synced.Status)
}

func TestReviewStoreStashListClear(t *testing.T) {
	t.Parallel()
	store := NewReviewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Stash(ctx, 42, []recorder.PersistedLien{
		pendingLien("2026-2", now.Add(time.Minute)),
		pendingLien("2026-1", now),
	}))
	// Stashing the same number twice keeps one entry.
	require.NoError(t, store.Stash(ctx, 43, []recorder.PersistedLien{pendingLien("2026-1", now)}))

	held, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, held, 2)
	require.Equal(t, "2026-1", held[0].RecordingNumber)

	cleared, err := store.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, cleared, 2)

	empty, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)
}
