package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// LegacyScraper drives the "Legacy" family of county recorder sites: a
// plain search form posting to a paginated results table, with one detail
// page per document.
type LegacyScraper struct {
	*BaseScraper
}

// NewLegacyScraper builds the scraper for one county.
func NewLegacyScraper(county recorder.County, cfg recorder.ScraperConfig, deps Deps) *LegacyScraper {
	return &LegacyScraper{BaseScraper: newBaseScraper(county, cfg, deps)}
}

// Scrape runs the search -> collect -> process state machine and returns
// every lien successfully produced this run.
func (s *LegacyScraper) Scrape(ctx context.Context, from, to time.Time, limit int) ([]recorder.ScrapedLien, error) {
	numbers, err := s.collectRecordingNumbers(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("results collected",
		zap.Int("recording_numbers", len(numbers)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return s.processRecords(ctx, numbers, limit), nil
}

// collectRecordingNumbers submits the search form and walks the paginated
// results. When the form cannot be driven it falls back to a direct
// results URL, which some legacy sites accept alongside the form.
func (s *LegacyScraper) collectRecordingNumbers(ctx context.Context, from, to time.Time) ([]string, error) {
	numbers, err := s.collectViaForm(ctx, from, to)
	if err == nil {
		return numbers, nil
	}
	s.logger.Warn("search form collection failed, trying direct results url", zap.Error(err))

	if s.cfg.ResultsURL == "" {
		return nil, fmt.Errorf("collect results: %w", err)
	}
	fallbackURL := buildResultsURL(s.cfg, from, to)
	numbers, fbErr := collectDirect(ctx, s.deps.Client, fallbackURL, s.cfg.Patterns)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return numbers, nil
}

func (s *LegacyScraper) collectViaForm(ctx context.Context, from, to time.Time) ([]string, error) {
	pageCtx, err := s.session.Page()
	if err != nil {
		return nil, err
	}

	dateFormat := s.cfg.DateFormat
	if dateFormat == "" {
		dateFormat = "01/02/2006"
	}

	if err := s.submitForm(pageCtx, from.Format(dateFormat), to.Format(dateFormat)); err != nil {
		s.session.ResetPage()
		return nil, err
	}

	var all []string
	seen := map[string]bool{}
	for page := 1; page <= s.cfg.PageLimit(); page++ {
		if err := ctx.Err(); err != nil {
			return all, nil
		}
		html, err := s.pageHTML(pageCtx)
		if err != nil {
			s.session.ResetPage()
			return all, fmt.Errorf("read results page %d: %w", page, err)
		}
		for _, n := range extractRecordingNumbers(html, s.cfg.Patterns) {
			if !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
		}
		if !s.clickNextPage(pageCtx) {
			break
		}
	}
	return all, nil
}

// submitForm fills document type and date range per the merged config's
// selectors and awaits the results navigation.
func (s *LegacyScraper) submitForm(pageCtx context.Context, fromStr, toStr string) error {
	sel := s.cfg.Selectors
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(s.cfg.SearchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if sel.DocTypeField != "" && s.cfg.DocTypeCode != "" {
		actions = append(actions, chromedp.SetValue(sel.DocTypeField, s.cfg.DocTypeCode, chromedp.ByQuery))
	}
	if sel.BeginDateField != "" {
		actions = append(actions, chromedp.SetValue(sel.BeginDateField, fromStr, chromedp.ByQuery))
	}
	if sel.EndDateField != "" {
		actions = append(actions, chromedp.SetValue(sel.EndDateField, toStr, chromedp.ByQuery))
	}
	submit := sel.SubmitButton
	if submit == "" {
		submit = `input[type="submit"]`
	}
	actions = append(actions,
		chromedp.Click(submit, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("submit search form at %s: %w", s.cfg.SearchURL, err)
	}
	return nil
}

// clickNextPage reports whether another results page was opened.
func (s *LegacyScraper) clickNextPage(pageCtx context.Context) bool {
	next := s.cfg.Selectors.NextPage
	if next == "" {
		return false
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	var exists bool
	if err := chromedp.Run(navCtx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, next), &exists),
	); err != nil || !exists {
		return false
	}
	if err := chromedp.Run(navCtx,
		chromedp.Click(next, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	); err != nil {
		s.logger.Debug("next page click failed, assuming last page", zap.Error(err))
		return false
	}
	return true
}

// processRecords visits each document's detail page and acquires its PDF.
// Per-record failures advance to the next record; one bad document must
// never abort the whole county run.
func (s *LegacyScraper) processRecords(ctx context.Context, numbers []string, limit int) []recorder.ScrapedLien {
	var produced []recorder.ScrapedLien
	for i, number := range numbers {
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
				zap.Int("index", i),
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
	return produced
}

func (s *LegacyScraper) processRecord(ctx context.Context, number string) (recorder.ScrapedLien, error) {
	detailURL := detailURLFor(s.cfg, number)
	html, err := s.openDetail(ctx, detailURL, number)
	if err != nil {
		return recorder.ScrapedLien{}, err
	}

	date, grantor, grantee, address, amount := parseDetailFields(html, s.cfg)
	lien := recorder.ScrapedLien{
		RecordingNumber: number,
		RecordingDate:   date,
		DocumentURL:     detailURL,
		ViewerURL:       s.viewerURL(detailURL),
		Grantor:         grantor,
		Grantee:         grantee,
		Address:         address,
		Amount:          amount,
	}

	pdf, err := s.DownloadPdfWithRetry(ctx, number, lien.ViewerURL)
	if err != nil {
		// The record itself was found; persist it without a PDF so the
		// delivery gate sees it and holds the run for review.
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

// openDetail navigates the scratch page to the document's detail view and
// returns its rendered HTML.
func (s *LegacyScraper) openDetail(ctx context.Context, detailURL, number string) (string, error) {
	if detailURL == "" {
		return "", fmt.Errorf("no detail url pattern configured for %s", number)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pageCtx, err := s.session.Page()
	if err != nil {
		return "", err
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	var html string
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(detailURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("open detail page %s: %w", detailURL, err)
	}
	return html, nil
}

// viewerURL finds the PDF viewer link (commonly the "Pages" column link)
// on the open detail page, falling back to the direct pattern.
func (s *LegacyScraper) viewerURL(detailURL string) string {
	if s.cfg.Selectors.PagesLink == "" {
		return ""
	}
	pageCtx, err := s.session.Page()
	if err != nil {
		return ""
	}
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()

	var href string
	probe := fmt.Sprintf(
		`(() => { const a = document.querySelector(%q); return a && a.href ? a.href : ''; })()`,
		s.cfg.Selectors.PagesLink,
	)
	if err := chromedp.Run(navCtx, chromedp.Evaluate(probe, &href)); err != nil || href == "" {
		return ""
	}
	resolved, err := resolveURL(detailURL, href)
	if err != nil {
		return href
	}
	return resolved
}

func (s *LegacyScraper) pageHTML(pageCtx context.Context) (string, error) {
	navCtx, cancel := context.WithTimeout(pageCtx, s.session.NavTimeout())
	defer cancel()
	var html string
	if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// detailURLFor substitutes the recording number into the configured detail
// URL pattern.
func detailURLFor(cfg recorder.ScraperConfig, number string) string {
	if cfg.DetailURLPattern == "" {
		return ""
	}
	return strings.ReplaceAll(cfg.DetailURLPattern, numberPlaceholder, number)
}

// buildResultsURL renders the direct results URL from date and doc-type
// parameters.
func buildResultsURL(cfg recorder.ScraperConfig, from, to time.Time) string {
	dateFormat := cfg.DateFormat
	if dateFormat == "" {
		dateFormat = "01/02/2006"
	}
	replacer := strings.NewReplacer(
		"{from}", from.Format(dateFormat),
		"{to}", to.Format(dateFormat),
		"{doctype}", cfg.DocTypeCode,
	)
	return replacer.Replace(cfg.ResultsURL)
}

var _ recorder.Scraper = (*LegacyScraper)(nil)
