package scrape

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// Factory builds a ready-to-initialize scraper for a county by merging
// its overrides onto its platform's defaults and dispatching on the
// platform kind.
type Factory struct {
	counties recorder.CountyStore
	deps     Deps
	logger   *zap.Logger
}

// NewFactory wires the factory.
func NewFactory(counties recorder.CountyStore, deps Deps, logger *zap.Logger) *Factory {
	return &Factory{counties: counties, deps: deps, logger: logger}
}

// ScraperFor resolves the county's platform, merges configuration with
// county values winning, and instantiates the matching implementation.
// An unrecognized platform defaults to the most common implementation:
// correctness of a single county must never block others.
func (f *Factory) ScraperFor(ctx context.Context, county recorder.County) (recorder.Scraper, error) {
	var defaults recorder.ScraperConfig
	kind := county.Platform
	if county.PlatformID != nil {
		platform, err := f.counties.GetPlatform(ctx, *county.PlatformID)
		switch {
		case err == nil:
			defaults = platform.DefaultConfig
			if kind == "" {
				kind = platform.Kind
			}
		default:
			f.logger.Warn("platform lookup failed, using county config alone",
				zap.Int64("platform_id", *county.PlatformID),
				zap.String("county", county.Name),
				zap.Error(err),
			)
		}
	}

	merged, err := recorder.MergeConfig(defaults, county.Config)
	if err != nil {
		return nil, fmt.Errorf("merge config for county %s: %w", county.Name, err)
	}

	switch resolveKind(kind, merged) {
	case recorder.PlatformLandmarkWeb:
		return NewLandmarkScraper(county, merged, f.deps), nil
	default:
		return NewLegacyScraper(county, merged, f.deps), nil
	}
}

// resolveKind prefers the explicit platform identifier and falls back to a
// heuristic inspection of the merged config: an iframe-based selector
// block or URL substrings mark a LandmarkWeb portal.
func resolveKind(kind recorder.PlatformKind, cfg recorder.ScraperConfig) recorder.PlatformKind {
	switch kind {
	case recorder.PlatformLegacy, recorder.PlatformLandmarkWeb:
		return kind
	}
	if cfg.Selectors.ResultsIframe != "" {
		return recorder.PlatformLandmarkWeb
	}
	if strings.Contains(strings.ToLower(cfg.SearchURL), "landmarkweb") {
		return recorder.PlatformLandmarkWeb
	}
	return recorder.PlatformLegacy
}
