// Package metrics exposes Prometheus collectors for the recorder feed.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal           *prometheus.CounterVec
	liensScrapedTotal   *prometheus.CounterVec
	pdfDownloadsTotal   *prometheus.CounterVec
	pdfDownloadSeconds  prometheus.Histogram
	syncBatchesTotal    *prometheus.CounterVec
	syncedRecordsTotal  prometheus.Counter
	pdfStoreBytesTotal  prometheus.Counter
	countyScrapeSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorderfeed_runs_total",
				Help: "Total automation runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		liensScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorderfeed_liens_scraped_total",
				Help: "Total lien records produced, labeled by county.",
			},
			[]string{"county"},
		)

		pdfDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorderfeed_pdf_downloads_total",
				Help: "PDF acquisition attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		pdfDownloadSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recorderfeed_pdf_download_duration_seconds",
				Help:    "Duration of successful PDF acquisitions.",
				Buckets: prometheus.DefBuckets,
			},
		)

		syncBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorderfeed_sync_batches_total",
				Help: "Downstream batch submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		syncedRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "recorderfeed_synced_records_total",
				Help: "Records confirmed synced to the downstream store.",
			},
		)

		pdfStoreBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "recorderfeed_pdf_store_bytes_total",
				Help: "Bytes written to the PDF store.",
			},
		)

		countyScrapeSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recorderfeed_county_scrape_duration_seconds",
				Help:    "Duration of per-county scrape passes.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"county"},
		)
	})
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRun increments the run counter for a terminal status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveLienScraped counts one produced lien record.
func ObserveLienScraped(county string) {
	Init()
	liensScrapedTotal.WithLabelValues(county).Inc()
}

// ObservePdfDownload counts one acquisition attempt.
func ObservePdfDownload(strategy, outcome string) {
	Init()
	pdfDownloadsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObservePdfDownloadDuration records a successful acquisition's duration.
func ObservePdfDownloadDuration(d time.Duration) {
	Init()
	pdfDownloadSeconds.Observe(d.Seconds())
}

// ObserveSyncBatch counts one downstream batch submission.
func ObserveSyncBatch(outcome string) {
	Init()
	syncBatchesTotal.WithLabelValues(outcome).Inc()
}

// AddSyncedRecords counts records confirmed by the downstream store.
func AddSyncedRecords(n int) {
	Init()
	syncedRecordsTotal.Add(float64(n))
}

// AddPdfStoreBytes counts bytes written to the PDF store.
func AddPdfStoreBytes(n int) {
	Init()
	pdfStoreBytesTotal.Add(float64(n))
}

// ObserveCountyScrape records a county pass duration.
func ObserveCountyScrape(county string, d time.Duration) {
	Init()
	countyScrapeSeconds.WithLabelValues(county).Observe(d.Seconds())
}
