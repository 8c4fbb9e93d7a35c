package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeConfig_CountyWins(t *testing.T) {
	t.Parallel()
	platform := ScraperConfig{
		SearchURL:  "https://legacy.example.gov/search",
		DateFormat: "01/02/2006",
		Selectors: Selectors{
			BeginDateField: "#beginDate",
			EndDateField:   "#endDate",
		},
		MaxPages: 10,
	}
	county := ScraperConfig{
		Selectors: Selectors{
			BeginDateField: "#txtFromDate",
		},
		DocTypeCode: "LIEN",
	}

	merged, err := MergeConfig(platform, county)
	require.NoError(t, err)

	require.Equal(t, "https://legacy.example.gov/search", merged.SearchURL)
	require.Equal(t, "01/02/2006", merged.DateFormat)
	require.Equal(t, "LIEN", merged.DocTypeCode)
	require.Equal(t, "#txtFromDate", merged.Selectors.BeginDateField)
	require.Equal(t, "#endDate", merged.Selectors.EndDateField)
	require.Equal(t, 10, merged.MaxPages)
}

func TestMergeConfig_SlicesReplaceWholesale(t *testing.T) {
	t.Parallel()
	platform := ScraperConfig{
		PdfURLPatterns: []string{
			"https://legacy.example.gov/image/{number}.pdf",
			"https://legacy.example.gov/docs/{number}",
		},
	}
	county := ScraperConfig{
		PdfURLPatterns: []string{"https://county.example.gov/pdf/{number}"},
	}

	merged, err := MergeConfig(platform, county)
	require.NoError(t, err)
	require.Equal(t, []string{"https://county.example.gov/pdf/{number}"}, merged.PdfURLPatterns)
}

func TestMergeConfig_EmptyOverrideKeepsDefaults(t *testing.T) {
	t.Parallel()
	platform := ScraperConfig{
		SearchURL:      "https://legacy.example.gov/search",
		PdfURLPatterns: []string{"https://legacy.example.gov/image/{number}.pdf"},
	}

	merged, err := MergeConfig(platform, ScraperConfig{})
	require.NoError(t, err)
	require.Equal(t, platform, merged)
}

func TestScraperConfig_PageLimitDefault(t *testing.T) {
	t.Parallel()
	require.Equal(t, 20, ScraperConfig{}.PageLimit())
	require.Equal(t, 3, ScraperConfig{MaxPages: 3}.PageLimit())
}
