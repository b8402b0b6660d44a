// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the harvest engine.
// Implements: prd010-harvester (Record, R3.1-R3.3);
//
//	docs/ARCHITECTURE § Data Model.
package types

// Field keys commonly populated by source extractors. Sources may add
// their own keys; the engine never interprets payload fields.
const (
	FieldTitle     = "title"
	FieldAbstract  = "abstract"
	FieldAuthors   = "authors"
	FieldVenue     = "venue"
	FieldYear      = "year"
	FieldDOI       = "doi"
	FieldURL       = "url"
	FieldPDFURL    = "pdf_url"
	FieldPublished = "published"
	FieldUpdated   = "updated"
	FieldCategory  = "primary_category"
)

// Record is one harvested item. ID is the stable identity the source
// assigns (arXiv ID, DOI, paper ID, or a composite derived from the title
// when the source exposes no natural identifier). Records with an empty ID
// never enter the accumulator (R3.1).
type Record struct {
	// ID is the source-defined stable identity. Never empty.
	ID string `json:"id" yaml:"id"`

	// Source identifies which integration produced this record
	// (e.g. "arxiv", "semantic_scholar", "openalex", "scholar").
	Source string `json:"source" yaml:"source"`

	// Fields holds the source-specific payload: title, authors, abstract,
	// venue, year, DOI, URL, and whatever else the extractor found.
	Fields map[string]string `json:"fields" yaml:"fields"`
}

// Field returns the named payload field or "" when absent.
func (r Record) Field(key string) string {
	return r.Fields[key]
}

// Title is a convenience accessor for the most commonly read field.
func (r Record) Title() string {
	return r.Fields[FieldTitle]
}
