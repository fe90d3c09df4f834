// Package db manages the SQLite run ledger. A single file holds the runs table
// and the append-only, hash-chained audit log.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLedgerFile is used when no ledger path is configured.
const DefaultLedgerFile = "patchwatch.db"

// LedgerSchema defines the runs table and the audit log.
const LedgerSchema = `
PRAGMA journal_mode=WAL;

-- One row per phase run
CREATE TABLE IF NOT EXISTS runs (
    uuid            TEXT PRIMARY KEY,
    phase           TEXT NOT NULL,          -- pre | post | combined
    status          TEXT NOT NULL DEFAULT 'running',
    records         INTEGER NOT NULL DEFAULT 0,
    error_detail    TEXT DEFAULT '',
    started_at      TEXT NOT NULL,
    finished_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_phase ON runs(phase);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

-- Append-only audit log; record_hash chains each row to the previous one
CREATE TABLE IF NOT EXISTS audit_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT NOT NULL,
    run_uuid        TEXT DEFAULT '',
    account_id      TEXT DEFAULT '',
    operator        TEXT NOT NULL DEFAULT 'local',
    event_type      TEXT NOT NULL,
    detail          TEXT DEFAULT '{}',
    record_hash     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_uuid);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);
`

// OpenLedgerDB opens or creates the ledger at path, creating parent directories.
func OpenLedgerDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultLedgerFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating ledger directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	// The audit chain serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(LedgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}

	return db, nil
}
