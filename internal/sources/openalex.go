// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/internal/httputil"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// openAlexAPIBase is the OpenAlex Works endpoint. Declared as a var so
// tests can substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org/works"

const defaultOpenAlexPageSize = 100

// OpenAlex harvests a query through the Works API. Token-paged: the first
// request sends cursor=*, each response's meta.next_cursor chains the next
// page, and a null cursor ends the set.
type OpenAlex struct {
	Client    *http.Client
	Query     string
	Email     string
	UserAgent string
	PageSize  int
}

// Name returns the source identifier.
func (b *OpenAlex) Name() string { return "openalex" }

// Fetch retrieves one cursor page.
func (b *OpenAlex) Fetch(ctx context.Context, desc harvest.PageDescriptor) ([]byte, error) {
	pageSize := b.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = defaultOpenAlexPageSize
	}

	cursor := desc.Token
	if cursor == "" {
		cursor = "*"
	}
	params := url.Values{
		"search":   {b.Query},
		"per_page": {strconv.Itoa(pageSize)},
		"cursor":   {cursor},
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, harvest.Fatal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", b.UserAgent)
	return httputil.Do(b.Client, req)
}

// Extract parses a Works page. OpenAlex is DOI-centric, so identity
// prefers the bare DOI and falls back to the OpenAlex work ID.
func (b *OpenAlex) Extract(content []byte) (harvest.ExtractResult, error) {
	var oar openAlexResponse
	if err := json.Unmarshal(content, &oar); err != nil {
		return harvest.ExtractResult{}, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	var records []types.Record
	for _, work := range oar.Results {
		doi := strings.TrimPrefix(work.DOI, "https://doi.org/")
		id := doi
		if id == "" {
			id = work.ID
		}
		if id == "" {
			continue
		}

		fields := map[string]string{}
		setField(fields, types.FieldTitle, work.Title)
		setField(fields, types.FieldAbstract, reconstructAbstract(work.AbstractInvertedIndex))
		setField(fields, types.FieldDOI, doi)
		setField(fields, types.FieldPublished, work.PublicationDate)
		setField(fields, types.FieldURL, work.OpenAccess.OAURL)
		if work.PublicationYear > 0 {
			fields[types.FieldYear] = strconv.Itoa(work.PublicationYear)
		}

		var authors []string
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				authors = append(authors, authorship.Author.DisplayName)
			}
		}
		setField(fields, types.FieldAuthors, joinAuthors(authors))

		records = append(records, types.Record{ID: id, Source: b.Name(), Fields: fields})
	}
	return harvest.ExtractResult{Records: records, NextToken: oar.Meta.NextCursor}, nil
}

// OpenAlexJob builds the single cursor-chained job for a query.
func OpenAlexJob(client *http.Client, query string, cfg types.HarvestConfig) harvest.JobSpec {
	src := &OpenAlex{
		Client:    client,
		Query:     query,
		Email:     cfg.OpenAlexEmail,
		UserAgent: cfg.UserAgent,
		PageSize:  cfg.PageSize,
	}
	return harvest.JobSpec{
		Name:      "openalex",
		Fetcher:   src,
		Extractor: src,
		Cursor:    harvest.NewTokenCursor(),
	}
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count      int    `json:"count"`
	PerPage    int    `json:"per_page"`
	NextCursor string `json:"next_cursor"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationDate       string               `json:"publication_date"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	IsOA     bool   `json:"is_oa"`
	OAStatus string `json:"oa_status"`
	OAURL    string `json:"oa_url"`
}
