package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// LandmarkScraper drives the "LandmarkWeb" family of county recorder
// portals, which render search results inside an iframe and accept search
// criteria as URL parameters.
type LandmarkScraper struct {
	*BaseScraper
}

// NewLandmarkScraper builds the scraper for one county.
func NewLandmarkScraper(county recorder.County, cfg recorder.ScraperConfig, deps Deps) *LandmarkScraper {
	return &LandmarkScraper{BaseScraper: newBaseScraper(county, cfg, deps)}
}

// Scrape runs the collect/process loop against the iframe-based portal.
func (s *LandmarkScraper) Scrape(ctx context.Context, from, to time.Time, limit int) ([]recorder.ScrapedLien, error) {
	numbers, err := s.collect(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("results collected",
		zap.Int("recording_numbers", len(numbers)),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	var produced []recorder.ScrapedLien
	for _, number := range numbers {
		if ctx.Err() != nil {
			break
		}
		if limit > 0 && len(produced) >= limit {
			break
		}
		lien, err := s.processRecord(ctx, number)
		if err != nil {
			s.logger.Warn("record processing failed, continuing",
				zap.String("recording_number", number),
				zap.Error(err),
			)
			s.session.ResetPage()
			continue
		}
		produced = append(produced, lien)
		metrics.ObserveLienScraped(s.county.Name)
		if delay := s.cfg.Delay(); delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}
	return produced, nil
}

// collect opens the criteria URL and walks the iframe-hosted result pages.
func (s *LandmarkScraper) collect(ctx context.Context, from, to time.Time) ([]string, error) {
	pageCtx, err := s.session.Page()
	if err != nil {
		return nil, err
	}

	searchURL := s.searchURL(from, to)
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	); err != nil {
		s.session.ResetPage()
		return nil, fmt.Errorf("open landmark search %s: %w", searchURL, err)
	}

	var all []string
	seen := map[string]bool{}
	for page := 1; page <= s.cfg.PageLimit(); page++ {
		if ctx.Err() != nil {
			return all, nil
		}
		html, err := s.frameHTML(pageCtx)
		if err != nil {
			s.session.ResetPage()
			return all, fmt.Errorf("read landmark results page %d: %w", page, err)
		}
		for _, n := range extractRecordingNumbers(html, s.cfg.Patterns) {
			if !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
		}
		if !s.nextFramePage(pageCtx) {
			break
		}
	}
	return all, nil
}

// searchURL renders the criteria URL; LandmarkWeb encodes the date range
// and document type as query parameters.
func (s *LandmarkScraper) searchURL(from, to time.Time) string {
	dateFormat := s.cfg.DateFormat
	if dateFormat == "" {
		dateFormat = "01/02/2006"
	}
	replacer := strings.NewReplacer(
		"{from}", from.Format(dateFormat),
		"{to}", to.Format(dateFormat),
		"{doctype}", s.cfg.DocTypeCode,
	)
	return replacer.Replace(s.cfg.SearchURL)
}

// frameHTML reads the results iframe's document; the portals serve the
// iframe same-origin so its content is script-reachable.
func (s *LandmarkScraper) frameHTML(pageCtx context.Context) (string, error) {
	frameSel := s.cfg.Selectors.ResultsIframe
	if frameSel == "" {
		frameSel = "iframe"
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	probe := fmt.Sprintf(`(() => {
		const frame = document.querySelector(%q);
		if (frame && frame.contentDocument) {
			return frame.contentDocument.documentElement.outerHTML;
		}
		return document.documentElement.outerHTML;
	})()`, frameSel)

	var html string
	if err := chromedp.Run(navCtx, chromedp.Evaluate(probe, &html)); err != nil {
		return "", err
	}
	return html, nil
}

// nextFramePage clicks the pagination control inside the iframe.
func (s *LandmarkScraper) nextFramePage(pageCtx context.Context) bool {
	next := s.cfg.Selectors.NextPage
	if next == "" {
		return false
	}
	frameSel := s.cfg.Selectors.ResultsIframe
	if frameSel == "" {
		frameSel = "iframe"
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	probe := fmt.Sprintf(`(() => {
		const frame = document.querySelector(%q);
		const doc = frame && frame.contentDocument ? frame.contentDocument : document;
		const control = doc.querySelector(%q);
		if (!control || control.disabled) return false;
		control.click();
		return true;
	})()`, frameSel, next)

	var clicked bool
	if err := chromedp.Run(navCtx,
		chromedp.Evaluate(probe, &clicked),
		chromedp.Sleep(time.Second),
	); err != nil {
		s.logger.Debug("landmark next page failed, assuming last page", zap.Error(err))
		return false
	}
	return clicked
}

func (s *LandmarkScraper) processRecord(ctx context.Context, number string) (recorder.ScrapedLien, error) {
	detailURL := detailURLFor(s.cfg, number)
	if detailURL == "" {
		return recorder.ScrapedLien{}, fmt.Errorf("no detail url pattern configured for %s", number)
	}
	if err := ctx.Err(); err != nil {
		return recorder.ScrapedLien{}, err
	}
	pageCtx, err := s.session.Page()
	if err != nil {
		return recorder.ScrapedLien{}, err
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	var html string
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(detailURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return recorder.ScrapedLien{}, fmt.Errorf("open detail page %s: %w", detailURL, err)
	}

	date, grantor, grantee, address, amount := parseDetailFields(html, s.cfg)
	lien := recorder.ScrapedLien{
		RecordingNumber: number,
		RecordingDate:   date,
		DocumentURL:     detailURL,
		ViewerURL:       s.viewerURL(navCtx, detailURL),
		Grantor:         grantor,
		Grantee:         grantee,
		Address:         address,
		Amount:          amount,
	}

	pdf, err := s.DownloadPdfWithRetry(ctx, number, lien.ViewerURL)
	if err != nil {
		s.logger.Warn("pdf acquisition exhausted, persisting as pdf_failed",
			zap.String("recording_number", number),
			zap.Error(err),
		)
		if _, saveErr := s.SaveLienWithoutPdf(ctx, lien); saveErr != nil {
			return recorder.ScrapedLien{}, saveErr
		}
		return lien, nil
	}
	lien.PdfBytes = pdf

	if _, err := s.SaveLienWithPdf(ctx, lien, pdf); err != nil {
		return recorder.ScrapedLien{}, err
	}
	return lien, nil
}

// viewerURL probes the open detail page for the document viewer link.
func (s *LandmarkScraper) viewerURL(navCtx context.Context, detailURL string) string {
	if s.cfg.Selectors.PagesLink == "" {
		return ""
	}
	probe := fmt.Sprintf(
		`(() => { const a = document.querySelector(%q); return a && a.href ? a.href : ''; })()`,
		s.cfg.Selectors.PagesLink,
	)
	var href string
	if err := chromedp.Run(navCtx, chromedp.Evaluate(probe, &href)); err != nil || href == "" {
		return ""
	}
	resolved, err := resolveURL(detailURL, href)
	if err != nil {
		return href
	}
	return resolved
}

var _ recorder.Scraper = (*LandmarkScraper)(nil)
