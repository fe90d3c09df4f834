package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenLedgerDB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "ledger.db")

	db, err := OpenLedgerDB(path)
	if err != nil {
		t.Fatalf("OpenLedgerDB: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"runs", "audit_log"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("DB file not created: %v", err)
	}
}

func TestOpenLedgerDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := OpenLedgerDB(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.Exec(
		"INSERT INTO runs (uuid, phase, started_at) VALUES ('r1', 'pre', '2024-01-01T00:00:00Z')",
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first.Close()

	second, err := OpenLedgerDB(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	var n int
	if err := second.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected existing run to survive reopen, got %d rows", n)
	}
}
