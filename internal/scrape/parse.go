package scrape

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// Default patterns used when a county's config leaves one unset. Page
// layouts vary by county so exact expressions are config-overridable.
const (
	defaultRecordingNumberPattern = `\b(\d{4}-?\d{6,9})\b`
	defaultDatePattern            = `(?i)record(?:ing|ed)?\s*date[:\s]+(\d{1,2}/\d{1,2}/\d{4})`
	defaultGrantorPattern         = `(?i)grantor[s]?[:\s]+([A-Z][A-Z0-9 ,.&'-]{2,80})`
	defaultGranteePattern         = `(?i)grantee[s]?[:\s]+([A-Z][A-Z0-9 ,.&'-]{2,80})`
	defaultAmountPattern          = `(?i)(?:amount|consideration)[:\s]+\$?([\d,]+(?:\.\d{2})?)`
	defaultAddressPattern         = `(?i)(?:property\s+)?address[:\s]+([0-9][\w .,#-]{5,120})`
)

var (
	patternCacheMu sync.Mutex
	patternCache   = map[string]*regexp.Regexp{}
)

// compilePattern caches compiled regexes; a county config error (bad regex)
// falls back to the provided default instead of aborting the run.
func compilePattern(pattern, fallback string) *regexp.Regexp {
	if pattern == "" {
		pattern = fallback
	}
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(fallback)
	}
	patternCache[pattern] = re
	return re
}

// extractRecordingNumbers pulls recording-number-shaped tokens from a
// results page, preserving discovery order and dropping duplicates.
func extractRecordingNumbers(html string, cfg recorder.Patterns) []string {
	re := compilePattern(cfg.RecordingNumber, defaultRecordingNumberPattern)
	seen := map[string]bool{}
	var numbers []string
	for _, match := range re.FindAllStringSubmatch(html, -1) {
		token := match[0]
		if len(match) > 1 {
			token = match[1]
		}
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		numbers = append(numbers, token)
	}
	return numbers
}

// extractFirst returns the first capture group of the pattern, trimmed.
func extractFirst(html, pattern, fallback string) string {
	re := compilePattern(pattern, fallback)
	match := re.FindStringSubmatch(html)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// parseDetailFields applies the tolerant text patterns to a detail page.
func parseDetailFields(html string, cfg recorder.ScraperConfig) (date time.Time, grantor, grantee, address string, amount float64) {
	if raw := extractFirst(html, cfg.Patterns.RecordingDate, defaultDatePattern); raw != "" {
		date = parseDate(raw, cfg.DateFormat)
	}
	grantor = extractFirst(html, cfg.Patterns.Grantor, defaultGrantorPattern)
	grantee = extractFirst(html, cfg.Patterns.Grantee, defaultGranteePattern)
	address = extractFirst(html, cfg.Patterns.Address, defaultAddressPattern)
	if raw := extractFirst(html, cfg.Patterns.Amount, defaultAmountPattern); raw != "" {
		amount = parseAmount(raw)
	}
	return date, grantor, grantee, address, amount
}

// parseDate tries the county's configured format first, then common US
// recorder formats.
func parseDate(raw, format string) time.Time {
	formats := []string{"01/02/2006", "1/2/2006", "2006-01-02", "01-02-2006"}
	if format != "" {
		formats = append([]string{format}, formats...)
	}
	for _, f := range formats {
		if t, err := time.Parse(f, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseAmount strips currency formatting.
func parseAmount(raw string) float64 {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return amount
}
