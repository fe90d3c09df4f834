package audit

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/patchwatch/patchwatch/internal/db"
)

func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()
	ledger, err := db.OpenLedgerDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestLogAndVerify(t *testing.T) {
	ledger := setupAuditDB(t)

	logger, err := NewLogger(ledger, "ops")
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	logger.Log(EventPhaseStarted, "run-1", "", map[string]string{"phase": "pre"})
	logger.Log(EventRoleAssumed, "run-1", "111111111111", map[string]string{"role": "PatchRole"})
	logger.Log(EventPhaseCompleted, "run-1", "", map[string]int{"records": 2})

	valid, count, err := Verify(ledger)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain")
	}
	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}
}

func TestChainTamperDetection(t *testing.T) {
	ledger := setupAuditDB(t)

	logger, err := NewLogger(ledger, "")
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	logger.Log(EventAPICall, "r", "", map[string]string{"a": "1"})
	logger.Log(EventAPICall, "r", "", map[string]string{"b": "2"})
	logger.Log(EventAPICall, "r", "", map[string]string{"c": "3"})

	ledger.Exec("UPDATE audit_log SET account_id = '999999999999' WHERE id = 2")

	valid, count, err := Verify(ledger)
	if err == nil {
		t.Error("expected error from tampered chain")
	}
	if valid {
		t.Error("expected invalid chain after tampering")
	}
	if count != 1 {
		t.Errorf("expected break after 1 good record, got %d", count)
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	ledger := setupAuditDB(t)

	valid, count, err := Verify(ledger)
	if err != nil {
		t.Fatalf("verify empty: %v", err)
	}
	if !valid {
		t.Error("expected empty chain to be valid")
	}
	if count != 0 {
		t.Errorf("expected 0 records, got %d", count)
	}
}

func TestNewLoggerRecoversPreviousHash(t *testing.T) {
	ledger := setupAuditDB(t)

	logger1, _ := NewLogger(ledger, "local")
	logger1.Log(EventPhaseStarted, "run-1", "", map[string]string{"first": "event"})

	// Second logger simulates the next scheduled run
	logger2, _ := NewLogger(ledger, "local")
	logger2.Log(EventPhaseStarted, "run-2", "", map[string]string{"second": "event"})

	valid, count, err := Verify(ledger)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain after logger recovery")
	}
	if count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	if err := logger.Log(EventAPICall, "", "", nil); err != nil {
		t.Errorf("nil logger should discard, got %v", err)
	}
}

func TestEventsFiltersByRun(t *testing.T) {
	ledger := setupAuditDB(t)
	logger, err := NewLogger(ledger, "ops")
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}

	logger.Log(EventPhaseStarted, "run-1", "", map[string]string{"phase": "pre"})
	logger.Log(EventPhaseStarted, "run-2", "", map[string]string{"phase": "post"})
	logger.Log(EventRoleAssumed, "run-1", "111111111111", map[string]string{"role": "PatchRole"})

	events, err := Events(ledger, "run-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != EventPhaseStarted || events[1].Event != EventRoleAssumed {
		t.Errorf("unexpected order: %s, %s", events[0].Event, events[1].Event)
	}
	if events[1].AccountID != "111111111111" || events[1].Operator != "ops" {
		t.Errorf("unexpected record: %+v", events[1])
	}
	if string(events[1].Detail) != `{"role":"PatchRole"}` {
		t.Errorf("detail = %s", events[1].Detail)
	}
}
