package core

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartRun records a new running phase and returns its record.
func StartRun(db *sql.DB, phase Phase) (*RunRecord, error) {
	run := &RunRecord{
		UUID:      uuid.New().String(),
		Phase:     phase,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO runs (uuid, phase, status, records, started_at) VALUES (?, ?, ?, 0, ?)`,
		run.UUID, string(run.Phase), string(run.Status), run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	return run, nil
}

// FinishRun stamps the outcome of a run. runErr, when non-nil, is stored as the
// run's error detail.
func FinishRun(db *sql.DB, run *RunRecord, status RunStatus, records int, runErr error) error {
	now := time.Now().UTC()
	run.Status = status
	run.Records = records
	run.FinishedAt = &now
	if runErr != nil {
		run.Error = runErr.Error()
	}
	_, err := db.Exec(
		`UPDATE runs SET status = ?, records = ?, error_detail = ?, finished_at = ? WHERE uuid = ?`,
		string(status), records, run.Error, now.Format(time.RFC3339Nano), run.UUID,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT uuid, phase, status, records, error_detail, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var phase, status, started string
		var errDetail, finished sql.NullString
		if err := rows.Scan(&r.UUID, &phase, &status, &r.Records, &errDetail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Phase = Phase(phase)
		r.Status = RunStatus(status)
		r.Error = errDetail.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
