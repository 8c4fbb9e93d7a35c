package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// collectDirect fetches a direct results URL without a browser and scrapes
// recording-number-shaped tokens out of the raw HTML. Legacy sites that
// accept GET parameters for the results view make this a usable fallback
// when form submission fails.
func collectDirect(ctx context.Context, client *resty.Client, resultsURL string, patterns recorder.Patterns) ([]string, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(30 * time.Second)
	if client != nil && client.GetClient() != nil && client.GetClient().Transport != nil {
		collector.WithTransport(client.GetClient().Transport)
	}

	var (
		numbers  []string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		numbers = extractRecordingNumbers(string(r.Body), patterns)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := collector.Visit(resultsURL); err != nil {
		return nil, fmt.Errorf("visit results url %s: %w", resultsURL, err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch results url %s: %w", resultsURL, fetchErr)
	}
	return numbers, nil
}
