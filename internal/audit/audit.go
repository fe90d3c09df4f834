// Package audit provides the append-only audit trail for patchwatch runs.
// Records form a hash chain for tamper detection.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType categorizes audit log entries.
type EventType string

const (
	EventAPICall          EventType = "api_call"
	EventRoleAssumed      EventType = "role_assumed"
	EventScopeSkipped     EventType = "scope_skipped"
	EventPhaseStarted     EventType = "phase_started"
	EventPhaseCompleted   EventType = "phase_completed"
	EventPhaseFailed      EventType = "phase_failed"
	EventReportWritten    EventType = "report_written"
	EventNotificationSent EventType = "notification_sent"
)

// Record is one stored audit entry.
type Record struct {
	ID        int64           `json:"id"`
	Timestamp string          `json:"timestamp"`
	RunUUID   string          `json:"run_uuid,omitempty"`
	AccountID string          `json:"account_id,omitempty"`
	Operator  string          `json:"operator"`
	Event     EventType       `json:"event_type"`
	Detail    json.RawMessage `json:"detail"`
	Hash      string          `json:"record_hash"`
}

// digest links r to prev: SHA-256 over the previous hash followed by every
// stored column except the id.
func (r *Record) digest(prev string) string {
	h := sha256.New()
	for _, part := range []string{prev, r.Timestamp, string(r.Event), r.Operator, r.RunUUID, r.AccountID, string(r.Detail)} {
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Logger writes tamper-evident audit records to the ledger database.
// A nil *Logger is valid and discards everything.
type Logger struct {
	db       *sql.DB
	operator string
	now      func() time.Time

	mu   sync.Mutex
	tail string
}

// NewLogger creates an audit logger that continues the existing chain.
func NewLogger(db *sql.DB, operator string) (*Logger, error) {
	if operator == "" {
		operator = "local"
	}
	var tail sql.NullString
	err := db.QueryRow(`SELECT record_hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&tail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	return &Logger{db: db, operator: operator, now: time.Now, tail: tail.String}, nil
}

// Log appends an event. runUUID and accountID may be empty.
func (al *Logger) Log(event EventType, runUUID, accountID string, detail any) error {
	if al == nil {
		return nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": "unencodable detail: " + err.Error()})
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	rec := Record{
		Timestamp: al.now().UTC().Format(time.RFC3339Nano),
		RunUUID:   runUUID,
		AccountID: accountID,
		Operator:  al.operator,
		Event:     event,
		Detail:    raw,
	}
	rec.Hash = rec.digest(al.tail)

	if _, err := al.db.Exec(
		`INSERT INTO audit_log (timestamp, run_uuid, account_id, operator, event_type, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.RunUUID, rec.AccountID, rec.Operator, string(rec.Event), string(rec.Detail), rec.Hash,
	); err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	al.tail = rec.Hash
	return nil
}

const selectRecords = `SELECT id, timestamp, run_uuid, account_id, operator, event_type, detail, record_hash FROM audit_log`

func scanRecords(rows *sql.Rows, visit func(*Record) error) error {
	defer rows.Close()
	for rows.Next() {
		var (
			rec    Record
			detail string
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.RunUUID, &rec.AccountID, &rec.Operator, &rec.Event, &detail, &rec.Hash); err != nil {
			return fmt.Errorf("scanning audit row: %w", err)
		}
		rec.Detail = json.RawMessage(detail)
		if err := visit(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	return nil
}

// Events returns the records of one run in insertion order.
func Events(db *sql.DB, runUUID string) ([]Record, error) {
	rows, err := db.Query(selectRecords+` WHERE run_uuid = ? ORDER BY id ASC`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	var out []Record
	err = scanRecords(rows, func(r *Record) error {
		out = append(out, *r)
		return nil
	})
	return out, err
}

// Verify walks the whole chain and reports whether it is intact and how many
// records were checked before the first break.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query(selectRecords + ` ORDER BY id ASC`)
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	var (
		prev  string
		count int
	)
	errBroken := errors.New("broken")
	err = scanRecords(rows, func(r *Record) error {
		if r.digest(prev) != r.Hash {
			return errBroken
		}
		prev = r.Hash
		count++
		return nil
	})
	switch {
	case errors.Is(err, errBroken):
		return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
	case err != nil:
		return false, count, err
	}
	return true, count, nil
}
