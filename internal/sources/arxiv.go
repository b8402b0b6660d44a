// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/internal/httputil"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// arxivAPIBase is the arXiv query endpoint. Declared as a var so tests can
// substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

const defaultArxivPageSize = 100

// Arxiv harvests one query partition from the arXiv Atom feed API.
// Offset-paged: start advances by max_results per full page.
type Arxiv struct {
	Client    *http.Client
	Query     string
	UserAgent string
}

// Name returns the source identifier.
func (a *Arxiv) Name() string { return "arxiv" }

// Fetch retrieves one feed page.
func (a *Arxiv) Fetch(ctx context.Context, desc harvest.PageDescriptor) ([]byte, error) {
	params := url.Values{
		"search_query": {a.Query},
		"start":        {strconv.Itoa(desc.Offset)},
		"max_results":  {strconv.Itoa(desc.PageSize)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, harvest.Fatal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", a.UserAgent)
	return httputil.Do(a.Client, req)
}

// Extract parses an Atom feed page into records keyed by arXiv ID.
func (a *Arxiv) Extract(content []byte) (harvest.ExtractResult, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(content, &feed); err != nil {
		return harvest.ExtractResult{}, fmt.Errorf("parsing arXiv feed: %w", err)
	}

	var records []types.Record
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		fields := map[string]string{}
		setField(fields, types.FieldTitle, strings.TrimSpace(entry.Title))
		setField(fields, types.FieldAbstract, strings.TrimSpace(entry.Summary))
		setField(fields, types.FieldDOI, entry.DOI)
		setField(fields, types.FieldPublished, entry.Published)
		setField(fields, types.FieldUpdated, entry.Updated)
		setField(fields, types.FieldVenue, entry.JournalRef)

		var authors []string
		for _, au := range entry.Authors {
			authors = append(authors, strings.TrimSpace(au.Name))
		}
		setField(fields, types.FieldAuthors, joinAuthors(authors))

		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			fields[types.FieldYear] = strconv.Itoa(t.Year())
		}

		for _, link := range entry.Links {
			switch link.Type {
			case "application/pdf":
				setField(fields, types.FieldPDFURL, link.Href)
			case "text/html":
				setField(fields, types.FieldURL, link.Href)
			}
		}
		if len(entry.Categories) > 0 {
			fields[types.FieldCategory] = entry.Categories[0].Term
			terms := make([]string, len(entry.Categories))
			for i, c := range entry.Categories {
				terms[i] = c.Term
			}
			fields["categories"] = strings.Join(terms, "; ")
		}

		records = append(records, types.Record{ID: arxivID, Source: a.Name(), Fields: fields})
	}
	return harvest.ExtractResult{Records: records}, nil
}

// ArxivJobs builds the arXiv job specs for a query. With YearFrom/YearTo
// configured, each year becomes an independent partition over a
// submittedDate window so partitions fan out across the worker pool;
// otherwise a single unpartitioned job is returned.
func ArxivJobs(client *http.Client, query string, cfg types.HarvestConfig) []harvest.JobSpec {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultArxivPageSize
	}

	if cfg.YearFrom == 0 || cfg.YearTo == 0 || cfg.YearFrom > cfg.YearTo {
		src := &Arxiv{Client: client, Query: "all:" + query, UserAgent: cfg.UserAgent}
		return []harvest.JobSpec{{
			Name:      "arxiv",
			Fetcher:   src,
			Extractor: src,
			Cursor:    harvest.NewOffsetCursor(pageSize),
		}}
	}

	var jobs []harvest.JobSpec
	for year := cfg.YearFrom; year <= cfg.YearTo; year++ {
		partition := fmt.Sprintf("(all:%s) AND submittedDate:[%d0101 TO %d1231]", query, year, year)
		src := &Arxiv{Client: client, Query: partition, UserAgent: cfg.UserAgent}
		jobs = append(jobs, harvest.JobSpec{
			Name:      fmt.Sprintf("arxiv/%d", year),
			Fetcher:   src,
			Extractor: src,
			Cursor:    harvest.NewOffsetCursor(pageSize),
		})
	}
	return jobs
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID         string          `xml:"id"`
	Title      string          `xml:"title"`
	Summary    string          `xml:"summary"`
	Published  string          `xml:"published"`
	Updated    string          `xml:"updated"`
	DOI        string          `xml:"doi"`
	JournalRef string          `xml:"journal_ref"`
	Authors    []arxivAuthor   `xml:"author"`
	Links      []arxivLink     `xml:"link"`
	Categories []arxivCategory `xml:"category"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" → "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
