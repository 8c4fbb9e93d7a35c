package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
	"github.com/lienfeed/recorder-feed/internal/storage/memory"
)

type downstreamStub struct {
	mu       sync.Mutex
	batches  [][]map[string]any
	failNext bool
}

func (d *downstreamStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"records": []any{}})
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.failNext {
			d.failNext = false
			http.Error(w, `{"error":"INVALID_REQUEST"}`, http.StatusUnprocessableEntity)
			return
		}
		var req struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
			Typecast bool `json:"typecast"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Typecast {
			http.Error(w, "typecast flag missing", http.StatusBadRequest)
			return
		}
		var batch []map[string]any
		var ids []map[string]string
		for i, rec := range req.Records {
			batch = append(batch, rec.Fields)
			ids = append(ids, map[string]string{"id": fmt.Sprintf("rec-%d-%d", len(d.batches), i)})
		}
		d.batches = append(d.batches, batch)
		_ = json.NewEncoder(w).Encode(map[string]any{"records": ids})
	})
}

func (d *downstreamStub) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func newService(t *testing.T, url string, liens recorder.LienStore) *Service {
	t.Helper()
	return New(Config{
		BaseURL:       url,
		APIKey:        "key",
		Table:         "Liens",
		PublicBaseURL: "https://feed.example.gov",
		Timeout:       5 * time.Second,
	}, liens, nil, nil, zap.NewNop())
}

func seedLiens(t *testing.T, store recorder.LienStore, n int) []recorder.PersistedLien {
	t.Helper()
	now := time.Now().UTC()
	var out []recorder.PersistedLien
	for i := 0; i < n; i++ {
		lien := recorder.PersistedLien{
			RecordingNumber: fmt.Sprintf("2026-%07d", i+1),
			CountyID:        1,
			RecordDate:      now.AddDate(0, 0, -1),
			Debtor:          "DEBTOR",
			Amount:          100,
			PdfURL:          fmt.Sprintf("https://feed.example.gov/pdf/id-%d", i+1),
			Status:          recorder.LienStatusPending,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
		}
		_, _, err := store.UpsertLien(context.Background(), lien)
		require.NoError(t, err)
		out = append(out, lien)
	}
	return out
}

func TestSyncDeliversSingleBatch(t *testing.T) {
	t.Parallel()
	stub := &downstreamStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	store := memory.NewLienStore()
	liens := seedLiens(t, store, 3)
	svc := newService(t, server.URL, store)

	report, err := svc.Sync(context.Background(), liens)
	require.NoError(t, err)
	require.Equal(t, 3, report.Synced)
	require.Equal(t, 1, stub.batchCount(), "3 records fit one batch")

	for _, lien := range liens {
		got, err := store.GetLien(context.Background(), lien.RecordingNumber)
		require.NoError(t, err)
		require.Equal(t, recorder.LienStatusSynced, got.Status)
		require.NotNil(t, got.DownstreamID)
	}

	fields := stub.batches[0][0]
	require.Equal(t, float64(20260000001), fields["Record Number"])
	attachments := fields["PDF"].([]any)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]any)
	require.Equal(t, "https://feed.example.gov/pdf/id-1", first["url"])
	require.Equal(t, "2026-0000001.pdf", first["filename"])
}

func TestSyncSplitsBatchesOfTen(t *testing.T) {
	t.Parallel()
	stub := &downstreamStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	store := memory.NewLienStore()
	liens := seedLiens(t, store, 23)
	svc := newService(t, server.URL, store)

	report, err := svc.Sync(context.Background(), liens)
	require.NoError(t, err)
	require.Equal(t, 23, report.Synced)
	require.Equal(t, 3, stub.batchCount())
	require.Len(t, stub.batches[0], 10)
	require.Len(t, stub.batches[1], 10)
	require.Len(t, stub.batches[2], 3)
}

func TestSyncResubmissionIsIdempotent(t *testing.T) {
	t.Parallel()
	stub := &downstreamStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	store := memory.NewLienStore()
	liens := seedLiens(t, store, 2)
	svc := newService(t, server.URL, store)

	_, err := svc.Sync(context.Background(), liens)
	require.NoError(t, err)
	require.Equal(t, 1, stub.batchCount())

	// Resubmit the now-synced rows: no new downstream calls.
	synced, err := store.ListByStatus(context.Background(), recorder.LienStatusSynced)
	require.NoError(t, err)
	require.Len(t, synced, 2)

	report, err := svc.Sync(context.Background(), synced)
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped)
	require.Zero(t, report.Submitted)
	require.Equal(t, 1, stub.batchCount(), "already-synced records must not be resubmitted")
}

func TestSyncBatchFailureKeepsPriorStatus(t *testing.T) {
	t.Parallel()
	stub := &downstreamStub{failNext: true}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	store := memory.NewLienStore()
	liens := seedLiens(t, store, 2)
	svc := newService(t, server.URL, store)

	_, err := svc.Sync(context.Background(), liens)
	require.Error(t, err)
	require.Contains(t, err.Error(), "downstream rejected batch")

	pending, err := store.ListByStatus(context.Background(), recorder.LienStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2, "rejected batch records keep their prior status")
}

func TestSyncAbortsWithoutUsablePdfs(t *testing.T) {
	t.Parallel()
	stub := &downstreamStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	store := memory.NewLienStore()
	svc := newService(t, server.URL, store)

	noPdf := recorder.PersistedLien{
		RecordingNumber: "2026-0000404",
		Status:          recorder.LienStatusPending,
	}
	_, err := svc.Sync(context.Background(), []recorder.PersistedLien{noPdf})
	require.Error(t, err)
	require.Zero(t, stub.batchCount())
}
