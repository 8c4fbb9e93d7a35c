package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/pdfstore"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// numberPlaceholder is substituted with the recording number in configured
// PDF URL patterns.
const numberPlaceholder = "{number}"

// PdfAcquirer implements the layered PDF acquisition strategy: configured
// URL patterns, then a direct viewer fetch, then browser network sniffing
// with DOM inspection as the last resort. First success wins.
type PdfAcquirer struct {
	session      *Session
	client       *resty.Client
	cfg          recorder.ScraperConfig
	policy       *recorder.ExponentialRetryPolicy
	minBytes     int
	sniffTimeout time.Duration
	logger       *zap.Logger
}

// NewPdfAcquirer builds an acquirer bound to one county's merged config.
func NewPdfAcquirer(
	session *Session,
	client *resty.Client,
	cfg recorder.ScraperConfig,
	minBytes int,
	sniffTimeout time.Duration,
	logger *zap.Logger,
) *PdfAcquirer {
	if sniffTimeout <= 0 {
		sniffTimeout = 10 * time.Second
	}
	if minBytes <= 0 {
		minBytes = 1024
	}
	return &PdfAcquirer{
		session:      session,
		client:       client,
		cfg:          cfg,
		policy:       recorder.NewExponentialRetryPolicy(),
		minBytes:     minBytes,
		sniffTimeout: sniffTimeout,
		logger:       logger,
	}
}

// DownloadWithRetry wraps the whole strategy chain with up to 3 attempts
// and exponential backoff, logging each failure with enough context to
// diagnose systemic county-side issues.
func (a *PdfAcquirer) DownloadWithRetry(ctx context.Context, recordingNumber, viewerURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < a.policy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("pdf download canceled: %w", ctx.Err())
			case <-time.After(a.policy.Backoff(attempt - 1)):
			}
		}
		content, err := a.acquire(ctx, recordingNumber, viewerURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
		a.logger.Warn("pdf acquisition attempt failed",
			zap.String("recording_number", recordingNumber),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !a.policy.ShouldRetry(err, attempt+1) {
			break
		}
	}
	return nil, fmt.Errorf("all pdf strategies exhausted for %s: %w", recordingNumber, lastErr)
}

// acquire runs the strategy chain once.
func (a *PdfAcquirer) acquire(ctx context.Context, recordingNumber, viewerURL string) ([]byte, error) {
	if content, err := a.tryPatterns(ctx, recordingNumber); err == nil {
		return content, nil
	}

	if viewerURL != "" {
		if content, err := a.fetchDirect(ctx, viewerURL); err == nil {
			metrics.ObservePdfDownload("viewer_direct", "success")
			return content, nil
		}
		metrics.ObservePdfDownload("viewer_direct", "failure")
	}

	if viewerURL != "" && a.session != nil && a.session.Running() {
		content, err := a.sniffBrowser(ctx, viewerURL)
		if err == nil {
			metrics.ObservePdfDownload("browser_sniff", "success")
			return content, nil
		}
		metrics.ObservePdfDownload("browser_sniff", "failure")
	}

	return nil, recorder.ErrNoPdf
}

// tryPatterns substitutes the recording number into every configured PDF
// URL pattern; a county may expose more than one working pattern.
func (a *PdfAcquirer) tryPatterns(ctx context.Context, recordingNumber string) ([]byte, error) {
	for _, pattern := range a.cfg.PdfURLPatterns {
		candidate := strings.ReplaceAll(pattern, numberPlaceholder, url.QueryEscape(recordingNumber))
		content, err := a.fetchDirect(ctx, candidate)
		if err != nil {
			metrics.ObservePdfDownload("url_pattern", "failure")
			continue
		}
		metrics.ObservePdfDownload("url_pattern", "success")
		return content, nil
	}
	return nil, recorder.ErrNoPdf
}

// fetchDirect GETs a URL and accepts the body only if it validates as PDF.
func (a *PdfAcquirer) fetchDirect(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	resp, err := a.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode())
	}
	content := resp.Body()
	if err := pdfstore.Validate(content, a.minBytes, false); err != nil {
		return nil, err
	}
	metrics.ObservePdfDownloadDuration(time.Since(start))
	return content, nil
}

// sniffBrowser opens the viewer URL in the browser and listens for network
// responses whose content type or URL suggests a PDF, with a short race
// against a timeout to avoid blocking on a closed viewer. If nothing is
// captured it falls back to DOM inspection.
func (a *PdfAcquirer) sniffBrowser(ctx context.Context, viewerURL string) ([]byte, error) {
	pageCtx, err := a.session.Page()
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(pageCtx, a.session.NavTimeout())
	defer cancel()

	captured := make(chan network.RequestID, 1)
	chromedp.ListenTarget(navCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil {
			return
		}
		if !looksLikePdfResponse(resp.Response.MimeType, resp.Response.URL) {
			return
		}
		select {
		case captured <- resp.RequestID:
		default:
		}
	})

	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(viewerURL),
	); err != nil {
		a.session.ResetPage()
		return nil, fmt.Errorf("open viewer %s: %w", viewerURL, err)
	}

	select {
	case reqID := <-captured:
		content, err := a.responseBody(navCtx, reqID)
		if err == nil {
			return content, nil
		}
		a.logger.Debug("sniffed pdf body unavailable, falling back to DOM",
			zap.String("viewer_url", viewerURL), zap.Error(err))
	case <-time.After(a.sniffTimeout):
	case <-ctx.Done():
		return nil, fmt.Errorf("pdf sniff canceled: %w", ctx.Err())
	}

	return a.fromDom(ctx, navCtx, viewerURL)
}

// responseBody pulls the captured response's bytes out of the browser.
func (a *PdfAcquirer) responseBody(pageCtx context.Context, reqID network.RequestID) ([]byte, error) {
	var content []byte
	err := chromedp.Run(pageCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		body, err := network.GetResponseBody(reqID).Do(ctx)
		if err != nil {
			return fmt.Errorf("get response body: %w", err)
		}
		content = body
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if err := pdfstore.Validate(content, a.minBytes, false); err != nil {
		return nil, err
	}
	return content, nil
}

// domPdfProbe locates a PDF target in the viewer page: iframe src, embed or
// object targets, or a literal .pdf link.
const domPdfProbe = `(() => {
	const iframe = document.querySelector('iframe[src]');
	if (iframe && iframe.src) return iframe.src;
	const embed = document.querySelector('embed[src]');
	if (embed && embed.src) return embed.src;
	const object = document.querySelector('object[data]');
	if (object && object.data) return object.data;
	const link = document.querySelector('a[href$=".pdf"], a[href*=".pdf?"]');
	if (link && link.href) return link.href;
	return '';
})()`

// fromDom inspects the rendered viewer for a PDF target and fetches it
// directly.
func (a *PdfAcquirer) fromDom(ctx, pageCtx context.Context, viewerURL string) ([]byte, error) {
	var candidate string
	if err := chromedp.Run(pageCtx, chromedp.Evaluate(domPdfProbe, &candidate)); err != nil {
		a.session.ResetPage()
		return nil, fmt.Errorf("dom inspection on %s: %w", viewerURL, err)
	}
	if candidate == "" {
		return nil, recorder.ErrNoPdf
	}
	resolved, err := resolveURL(viewerURL, candidate)
	if err != nil {
		return nil, err
	}
	content, err := a.fetchDirect(ctx, resolved)
	if err != nil {
		metrics.ObservePdfDownload("dom_extract", "failure")
		return nil, err
	}
	metrics.ObservePdfDownload("dom_extract", "success")
	return content, nil
}

func looksLikePdfResponse(mimeType, responseURL string) bool {
	if strings.Contains(strings.ToLower(mimeType), "application/pdf") {
		return true
	}
	lowered := strings.ToLower(responseURL)
	return strings.HasSuffix(lowered, ".pdf") || strings.Contains(lowered, ".pdf?")
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %s: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse candidate url %s: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
