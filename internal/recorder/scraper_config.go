package recorder

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

// ScraperConfig captures everything a platform scraper needs to drive one
// county's website. Platforms carry a default config; counties override
// individual fields. Zero values mean "inherit".
type ScraperConfig struct {
	SearchURL        string    `json:"search_url,omitempty"`
	ResultsURL       string    `json:"results_url,omitempty"`
	DetailURLPattern string    `json:"detail_url_pattern,omitempty"`
	PdfURLPatterns   []string  `json:"pdf_url_patterns,omitempty"`
	DateFormat       string    `json:"date_format,omitempty"`
	DocTypeCode      string    `json:"doc_type_code,omitempty"`
	Selectors        Selectors `json:"selectors,omitempty"`
	Patterns         Patterns  `json:"patterns,omitempty"`
	MaxPages         int       `json:"max_pages,omitempty"`
	DelayMillis      int       `json:"delay_millis,omitempty"`
}

// Selectors holds the DOM selectors used to operate a county's search UI.
type Selectors struct {
	DocTypeField   string `json:"doc_type_field,omitempty"`
	BeginDateField string `json:"begin_date_field,omitempty"`
	EndDateField   string `json:"end_date_field,omitempty"`
	SubmitButton   string `json:"submit_button,omitempty"`
	ResultsTable   string `json:"results_table,omitempty"`
	ResultsIframe  string `json:"results_iframe,omitempty"`
	NextPage       string `json:"next_page,omitempty"`
	PagesLink      string `json:"pages_link,omitempty"`
}

// Patterns holds the tolerant text-matching regexes used to pull fields out
// of detail pages. Exact expressions vary by county, hence configurable.
type Patterns struct {
	RecordingNumber string `json:"recording_number,omitempty"`
	RecordingDate   string `json:"recording_date,omitempty"`
	Grantor         string `json:"grantor,omitempty"`
	Grantee         string `json:"grantee,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Address         string `json:"address,omitempty"`
}

// MergeConfig overlays a county's overrides onto its platform's defaults.
// County values always win; merging recurses into nested structs and
// replaces slices wholesale.
func MergeConfig(platformDefaults, countyOverrides ScraperConfig) (ScraperConfig, error) {
	merged := platformDefaults
	if err := mergo.Merge(&merged, countyOverrides, mergo.WithOverride); err != nil {
		return ScraperConfig{}, fmt.Errorf("merge scraper config: %w", err)
	}
	return merged, nil
}

// Delay returns the configured inter-action delay.
func (c ScraperConfig) Delay() time.Duration {
	if c.DelayMillis <= 0 {
		return 0
	}
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// PageLimit bounds pagination on a misbehaving site.
func (c ScraperConfig) PageLimit() int {
	if c.MaxPages <= 0 {
		return 20
	}
	return c.MaxPages
}
