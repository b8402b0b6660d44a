// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources provides the per-source fetcher/extractor pairs the
// harvest engine schedules: arXiv (Atom XML feed), Semantic Scholar (bulk
// search JSON API), OpenAlex (cursor-paged metadata API), and Google
// Scholar (search result pages). Each integration owns its endpoint
// knowledge and field extraction; pagination, retries, rate limiting, and
// deduplication all live in the engine.
// Implements: prd012-sources (R1-R4);
//
//	docs/ARCHITECTURE § Sources.
package sources

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

const authorSeparator = "; "

// BuildJobs assembles job specs for every source enabled in cfg. The
// returned jobs share the client but nothing else; each owns its cursor.
func BuildJobs(client *http.Client, query string, cfg types.HarvestConfig) ([]harvest.JobSpec, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty: provide search terms")
	}

	var jobs []harvest.JobSpec
	if cfg.EnableArxiv {
		jobs = append(jobs, ArxivJobs(client, query, cfg)...)
	}
	if cfg.EnableSemanticScholar {
		jobs = append(jobs, SemanticScholarJob(client, query, cfg))
	}
	if cfg.EnableOpenAlex {
		jobs = append(jobs, OpenAlexJob(client, query, cfg))
	}
	if cfg.EnableScholar {
		jobs = append(jobs, ScholarJob(client, query, cfg))
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	return jobs, nil
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the
// title, used for composite identity when a source exposes no natural ID.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func joinAuthors(authors []string) string {
	return strings.Join(authors, authorSeparator)
}

// setField stores non-empty values only, keeping payload maps free of
// placeholder keys.
func setField(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
