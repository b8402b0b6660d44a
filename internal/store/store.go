// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists harvested records and run summaries.
// Implements: prd011-store (R1-R4);
//
//	docs/ARCHITECTURE § Store.
//
// The store is the caller-supplied persistence step the scheduler hands its
// snapshot to: a SQLite database under dataDir/index/, a YAML run manifest
// under dataDir/manifests/, and CSV/JSON export of everything collected.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/harvest-engine/internal/harvest"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

const (
	indexDir     = "index"
	manifestsDir = "manifests"
	dbFile       = "harvest.db"
)

// Store manages the harvest SQLite database.
type Store struct {
	db      *sql.DB
	dataDir string
}

// New opens or creates the database at dataDir/index/harvest.db, creating
// the schema if it does not exist.
func New(cfg types.StoreConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.DataDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dataDir: cfg.DataDir}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			target INTEGER,
			collected INTEGER,
			shortfall INTEGER,
			dups_removed INTEGER,
			abandoned_jobs INTEGER,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			source TEXT,
			title TEXT,
			authors TEXT,
			abstract TEXT,
			year TEXT,
			doi TEXT,
			url TEXT,
			fields TEXT,
			harvested_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveRun persists the run summary and every record from the report's
// snapshot. Records already stored by a previous run keep their original
// row; re-harvesting is idempotent.
func (s *Store) SaveRun(report harvest.Report, query string) (stored int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(
		`INSERT INTO runs (run_id, query, target, collected, shortfall, dups_removed, abandoned_jobs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, query, report.Target, len(report.Records),
		report.Shortfall, report.DupsRemoved, report.Abandoned(), now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO records (id, run_id, source, title, authors, abstract, year, doi, url, fields, harvested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range report.Records {
		payload, err := json.Marshal(r.Fields)
		if err != nil {
			return 0, fmt.Errorf("encoding fields for %s: %w", r.ID, err)
		}
		res, err := stmt.Exec(
			r.ID, report.RunID, r.Source,
			r.Field(types.FieldTitle), r.Field(types.FieldAuthors),
			r.Field(types.FieldAbstract), r.Field(types.FieldYear),
			r.Field(types.FieldDOI), r.Field(types.FieldURL),
			string(payload), now,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	return stored, nil
}

// Count returns the number of records stored across all runs.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Records returns all stored records in insertion order.
func (s *Store) Records() ([]types.Record, error) {
	rows, err := s.db.Query(`SELECT id, source, fields FROM records ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var r types.Record
		var payload string
		if err := rows.Scan(&r.ID, &r.Source, &payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Fields); err != nil {
			return nil, fmt.Errorf("decoding fields for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// runManifest is the YAML summary written beside the database.
type runManifest struct {
	RunID       string              `yaml:"run_id"`
	Query       string              `yaml:"query"`
	CreatedAt   string              `yaml:"created_at"`
	Target      int                 `yaml:"target"`
	Collected   int                 `yaml:"collected"`
	Shortfall   int                 `yaml:"shortfall"`
	DupsRemoved int                 `yaml:"dups_removed"`
	Jobs        []harvest.JobReport `yaml:"jobs"`
}

// WriteManifest writes the run summary to dataDir/manifests/<run_id>.yaml
// and returns the file path.
func (s *Store) WriteManifest(report harvest.Report, query string) (string, error) {
	dir := filepath.Join(s.dataDir, manifestsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manifests directory: %w", err)
	}

	m := runManifest{
		RunID:       report.RunID,
		Query:       query,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Target:      report.Target,
		Collected:   len(report.Records),
		Shortfall:   report.Shortfall,
		DupsRemoved: report.DupsRemoved,
		Jobs:        report.Jobs,
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	path := filepath.Join(dir, report.RunID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
