package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

func pdfPayload(size int) []byte {
	content := make([]byte, size)
	copy(content, "%PDF-1.7\n")
	return content
}

func TestAcquirerTriesEveryPattern(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/alt/2026-1" {
			_, _ = w.Write(pdfPayload(2048))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := recorder.ScraperConfig{PdfURLPatterns: []string{
		server.URL + "/image/{number}.pdf",
		server.URL + "/alt/{number}",
	}}
	acquirer := NewPdfAcquirer(nil, resty.New(), cfg, 64, time.Second, zap.NewNop())

	content, err := acquirer.DownloadWithRetry(context.Background(), "2026-1", "")
	require.NoError(t, err)
	require.Equal(t, pdfPayload(2048), content)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/image/2026-1.pdf", "/alt/2026-1"}, paths,
		"patterns are tried in configured order")
}

func TestAcquirerRejectsNonPdfBodies(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>session expired</html>"))
	}))
	defer server.Close()

	cfg := recorder.ScraperConfig{PdfURLPatterns: []string{server.URL + "/image/{number}.pdf"}}
	acquirer := NewPdfAcquirer(nil, resty.New(), cfg, 64, time.Second, zap.NewNop())

	_, err := acquirer.DownloadWithRetry(context.Background(), "2026-2", "")
	require.ErrorIs(t, err, recorder.ErrNoPdf)
}

func TestAcquirerViewerDirectFallback(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/viewer" {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(pdfPayload(4096))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	// No patterns configured: the viewer URL is the second strategy.
	acquirer := NewPdfAcquirer(nil, resty.New(), recorder.ScraperConfig{}, 64, time.Second, zap.NewNop())

	content, err := acquirer.DownloadWithRetry(context.Background(), "2026-3", server.URL+"/viewer")
	require.NoError(t, err)
	require.Len(t, content, 4096)
}

func TestDownloadWithRetry_AttemptBoundAndBackoff(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var hits []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := recorder.ScraperConfig{PdfURLPatterns: []string{server.URL + "/image/{number}.pdf"}}
	acquirer := NewPdfAcquirer(nil, resty.New(), cfg, 64, time.Second, zap.NewNop())

	_, err := acquirer.DownloadWithRetry(context.Background(), "2026-4", "")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 3, "at most 3 attempts against a stub that always fails")
	gapOne := hits[1].Sub(hits[0])
	gapTwo := hits[2].Sub(hits[1])
	require.Greater(t, gapTwo, gapOne, "wait between attempts must strictly increase")
}

func TestDownloadWithRetry_CanceledContext(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := recorder.ScraperConfig{PdfURLPatterns: []string{server.URL + "/image/{number}.pdf"}}
	acquirer := NewPdfAcquirer(nil, resty.New(), cfg, 64, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := acquirer.DownloadWithRetry(ctx, "2026-5", "")
	require.Error(t, err)
}

func TestLooksLikePdfResponse(t *testing.T) {
	t.Parallel()
	require.True(t, looksLikePdfResponse("application/pdf", "https://x.example.gov/view"))
	require.True(t, looksLikePdfResponse("application/octet-stream", "https://x.example.gov/doc.PDF"))
	require.True(t, looksLikePdfResponse("", "https://x.example.gov/doc.pdf?page=1"))
	require.False(t, looksLikePdfResponse("text/html", "https://x.example.gov/view"))
}
