// Package store provides SQLite-backed persistence for pipelines and the
// filing data their stages produce.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistence layer for the research backend.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- One row per research run against a PE firm
	CREATE TABLE IF NOT EXISTS pipelines (
		id          TEXT PRIMARY KEY,
		firm_name   TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Portfolio companies discovered by the research stage
	CREATE TABLE IF NOT EXISTS companies (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id       TEXT NOT NULL,
		name              TEXT NOT NULL,
		legal_entity_name TEXT,
		city              TEXT,
		state             TEXT,
		exited            BOOLEAN DEFAULT FALSE,
		confidence        TEXT,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,

		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
	);

	-- Form 5500 filings matched during data extraction
	CREATE TABLE IF NOT EXISTS filings (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id          INTEGER NOT NULL,
		year                INTEGER NOT NULL,
		ein                 TEXT,
		plan_name           TEXT,
		active_participants INTEGER DEFAULT 0,

		FOREIGN KEY (company_id) REFERENCES companies(id) ON DELETE CASCADE
	);

	-- Schedule A attachments: one row per carrier contract
	CREATE TABLE IF NOT EXISTS schedule_a (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id      INTEGER NOT NULL,
		year            INTEGER NOT NULL,
		benefit_type    TEXT,
		carrier_name    TEXT,
		premiums        REAL DEFAULT 0,
		brokerage_fees  REAL DEFAULT 0,
		people_covered  INTEGER DEFAULT 0,

		FOREIGN KEY (company_id) REFERENCES companies(id) ON DELETE CASCADE
	);

	-- Generated firm reports, newest wins
	CREATE TABLE IF NOT EXISTS reports (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id TEXT NOT NULL,
		firm_name   TEXT NOT NULL,
		payload     TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,

		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);
	CREATE INDEX IF NOT EXISTS idx_companies_pipeline ON companies(pipeline_id);
	CREATE INDEX IF NOT EXISTS idx_filings_company ON filings(company_id, year);
	CREATE INDEX IF NOT EXISTS idx_schedule_a_company ON schedule_a(company_id, year);
	CREATE INDEX IF NOT EXISTS idx_reports_pipeline ON reports(pipeline_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// repeatSQL returns n copies of ", ?" for IN clauses.
func repeatSQL(n int) string {
	return strings.Repeat(", ?", n)
}
