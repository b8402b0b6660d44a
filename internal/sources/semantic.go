// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/internal/httputil"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar bulk search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search/bulk"

const semanticFields = "title,abstract,authors,externalIds,year,publicationDate,url"

// SemanticScholar harvests a query through the bulk search API.
// Token-paged: each response carries an opaque continuation token that the
// next request echoes verbatim; its absence means the result set is done.
type SemanticScholar struct {
	Client    *http.Client
	Query     string
	APIKey    string
	UserAgent string
}

// Name returns the source identifier.
func (b *SemanticScholar) Name() string { return "semantic_scholar" }

// Fetch retrieves one bulk-search page.
func (b *SemanticScholar) Fetch(ctx context.Context, desc harvest.PageDescriptor) ([]byte, error) {
	params := url.Values{
		"query":  {b.Query},
		"fields": {semanticFields},
	}
	if desc.Token != "" {
		params.Set("token", desc.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, harvest.Fatal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", b.UserAgent)
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}
	return httputil.Do(b.Client, req)
}

// Extract parses a bulk-search page. Identity prefers the arXiv ID, then
// the DOI, then the Semantic Scholar paper ID, so the same paper harvested
// from arXiv collapses to one record.
func (b *SemanticScholar) Extract(content []byte) (harvest.ExtractResult, error) {
	var sr semanticResponse
	if err := json.Unmarshal(content, &sr); err != nil {
		return harvest.ExtractResult{}, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	var records []types.Record
	for _, paper := range sr.Data {
		var id string
		switch {
		case paper.ExternalIDs.ArXiv != "":
			id = paper.ExternalIDs.ArXiv
		case paper.ExternalIDs.DOI != "":
			id = paper.ExternalIDs.DOI
		default:
			id = paper.PaperID
		}
		if id == "" {
			continue
		}

		fields := map[string]string{}
		setField(fields, types.FieldTitle, paper.Title)
		setField(fields, types.FieldAbstract, paper.Abstract)
		setField(fields, types.FieldURL, paper.URL)
		setField(fields, types.FieldDOI, paper.ExternalIDs.DOI)
		setField(fields, types.FieldPublished, paper.PublicationDate)
		if paper.Year > 0 {
			fields[types.FieldYear] = strconv.Itoa(paper.Year)
		}

		var authors []string
		for _, a := range paper.Authors {
			authors = append(authors, a.Name)
		}
		setField(fields, types.FieldAuthors, joinAuthors(authors))

		records = append(records, types.Record{ID: id, Source: b.Name(), Fields: fields})
	}
	return harvest.ExtractResult{Records: records, NextToken: sr.Token}, nil
}

// SemanticScholarJob builds the single token-chained job for a query.
func SemanticScholarJob(client *http.Client, query string, cfg types.HarvestConfig) harvest.JobSpec {
	src := &SemanticScholar{
		Client:    client,
		Query:     query,
		APIKey:    cfg.SemanticScholarAPIKey,
		UserAgent: cfg.UserAgent,
	}
	return harvest.JobSpec{
		Name:      "semantic_scholar",
		Fetcher:   src,
		Extractor: src,
		Cursor:    harvest.NewTokenCursor(),
	}
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total int             `json:"total"`
	Token string          `json:"token"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID         string              `json:"paperId"`
	Title           string              `json:"title"`
	Abstract        string              `json:"abstract"`
	URL             string              `json:"url"`
	Year            int                 `json:"year"`
	PublicationDate string              `json:"publicationDate"`
	Authors         []semanticAuthor    `json:"authors"`
	ExternalIDs     semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}
