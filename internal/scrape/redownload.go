package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/pdfstore"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// RedownloadFetcher re-acquires PDFs from their original county source
// without a browser, by trying every active county's configured URL
// patterns. Best effort: the PDF store uses it as a just-in-time fallback
// for evicted entries.
type RedownloadFetcher struct {
	counties recorder.CountyStore
	client   *resty.Client
	minBytes int
	logger   *zap.Logger
}

// NewRedownloadFetcher wires the fetcher.
func NewRedownloadFetcher(counties recorder.CountyStore, client *resty.Client, minBytes int, logger *zap.Logger) *RedownloadFetcher {
	if minBytes <= 0 {
		minBytes = 1024
	}
	return &RedownloadFetcher{counties: counties, client: client, minBytes: minBytes, logger: logger}
}

// FetchPdf tries the configured PDF URL patterns of every active county
// until one yields a valid document.
func (r *RedownloadFetcher) FetchPdf(ctx context.Context, recordingNumber string) ([]byte, error) {
	counties, err := r.counties.ListActiveCounties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counties for redownload: %w", err)
	}
	for _, county := range counties {
		cfg := county.Config
		if county.PlatformID != nil {
			if platform, err := r.counties.GetPlatform(ctx, *county.PlatformID); err == nil {
				if merged, err := recorder.MergeConfig(platform.DefaultConfig, county.Config); err == nil {
					cfg = merged
				}
			}
		}
		for _, pattern := range cfg.PdfURLPatterns {
			candidate := strings.ReplaceAll(pattern, numberPlaceholder, url.QueryEscape(recordingNumber))
			resp, err := r.client.R().SetContext(ctx).Get(candidate)
			if err != nil || resp.StatusCode() >= 400 {
				continue
			}
			content := resp.Body()
			if pdfstore.Validate(content, r.minBytes, false) != nil {
				continue
			}
			r.logger.Info("redownload hit",
				zap.String("recording_number", recordingNumber),
				zap.String("county", county.Name),
			)
			return content, nil
		}
	}
	return nil, fmt.Errorf("redownload %s: %w", recordingNumber, recorder.ErrNoPdf)
}

var _ pdfstore.SourceFetcher = (*RedownloadFetcher)(nil)
