// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/internal/httputil"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// scholarBase is the Google Scholar results endpoint. Declared as a var so
// tests can substitute an httptest server.
var scholarBase = "https://scholar.google.com/scholar"

// ScholarPageSize is the fixed result-page size of the SERP.
const ScholarPageSize = 10

// scholarUserAgents is the rotation pool for SERP requests. Scholar
// throttles repeated identical clients aggressively.
var scholarUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36",
}

// Scholar harvests result titles from Google Scholar result pages.
// Offset-paged: start advances by ten per page. This fetcher uses plain
// HTTP; a browser-backed Fetcher can replace it without engine changes
// since the extractor only sees raw HTML.
type Scholar struct {
	Client *http.Client
	Query  string
}

// Name returns the source identifier.
func (b *Scholar) Name() string { return "scholar" }

// Fetch retrieves one result page with a rotated User-Agent.
func (b *Scholar) Fetch(ctx context.Context, desc harvest.PageDescriptor) ([]byte, error) {
	params := url.Values{"q": {b.Query}}
	if desc.Offset > 0 {
		params.Set("start", strconv.Itoa(desc.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scholarBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, harvest.Fatal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", scholarUserAgents[rand.Intn(len(scholarUserAgents))])
	return httputil.Do(b.Client, req)
}

// Extract pulls result titles out of the page. Scholar exposes no stable
// identifier, so identity is a composite: a hash of the normalized title.
func (b *Scholar) Extract(content []byte) (harvest.ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return harvest.ExtractResult{}, fmt.Errorf("parsing result page: %w", err)
	}

	var records []types.Record
	doc.Find("h3.gs_rt").Each(func(_ int, sel *goquery.Selection) {
		// Citation markers ("[CITATION]", "[BOOK]") are not part of
		// the title.
		sel.Find("span.gs_ctu").Remove()

		title := sel.Find("a").First().Text()
		href, _ := sel.Find("a").First().Attr("href")
		if title == "" {
			title = sel.Text()
		}
		title = cleanScholarTitle(title)
		if title == "" {
			return
		}

		fields := map[string]string{types.FieldTitle: title}
		setField(fields, types.FieldURL, href)
		records = append(records, types.Record{
			ID:     compositeID(title),
			Source: b.Name(),
			Fields: fields,
		})
	})
	return harvest.ExtractResult{Records: records}, nil
}

// ScholarJob builds the SERP job for a query.
func ScholarJob(client *http.Client, query string, cfg types.HarvestConfig) harvest.JobSpec {
	src := &Scholar{Client: client, Query: query}
	return harvest.JobSpec{
		Name:      "scholar",
		Fetcher:   src,
		Extractor: src,
		Cursor:    harvest.NewOffsetCursor(ScholarPageSize),
	}
}

// cleanScholarTitle normalizes the unicode the SERP serves (smart quotes,
// non-breaking spaces) and collapses whitespace.
func cleanScholarTitle(title string) string {
	title = norm.NFKC.String(title)
	title = strings.ReplaceAll(title, " ", " ")
	return strings.Join(strings.Fields(title), " ")
}

// compositeID derives a stable identity for records without a natural ID.
func compositeID(title string) string {
	normalized := normalizeTitle(title)
	if normalized == "" {
		return ""
	}
	sum := sha1.Sum([]byte(normalized))
	return "title:" + hex.EncodeToString(sum[:])
}
