// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pdiddy/harvest-engine/pkg/types"
)

// csvColumns is the fixed export header. Payload keys outside these
// columns stay available through the JSON export.
var csvColumns = []string{"ID", "Source", "Title", "Authors", "Abstract", "Year", "DOI", "URL"}

// utf8BOM makes the CSV open cleanly in spreadsheet tools that otherwise
// guess a legacy encoding.
const utf8BOM = "\uFEFF"

// ExportCSV writes all stored records to w as UTF-8 CSV with a BOM.
func (s *Store) ExportCSV(w io.Writer) (int, error) {
	records, err := s.Records()
	if err != nil {
		return 0, err
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return 0, fmt.Errorf("writing BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.Source,
			r.Field(types.FieldTitle),
			r.Field(types.FieldAuthors),
			r.Field(types.FieldAbstract),
			r.Field(types.FieldYear),
			r.Field(types.FieldDOI),
			r.Field(types.FieldURL),
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("writing record %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flushing CSV: %w", err)
	}
	return len(records), nil
}

// ExportJSON writes all stored records to w as indented JSON.
func (s *Store) ExportJSON(w io.Writer) (int, error) {
	records, err := s.Records()
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return 0, fmt.Errorf("encoding records: %w", err)
	}
	return len(records), nil
}
