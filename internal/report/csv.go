package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/patchwatch/patchwatch/internal/core"
)

// Report column names, in file order.
const (
	ColAccountIDReport = "AccountId"
	ColRegionReport    = "Region"
	ColRoleNameReport  = "RoleName"
	ColWindowID        = "MaintenanceWindowId"
	ColWindowName      = "MaintenanceWindowName"
	ColTargetCount     = "TargetInstanceCount"
	ColSuccess         = "Success"
	ColFailure         = "Failure"
	ColStatus          = "Status"
)

var (
	PrePatchHeader  = []string{ColAccountIDReport, ColRegionReport, ColRoleNameReport, ColWindowID, ColWindowName, ColTargetCount}
	PostPatchHeader = append(append([]string{}, PrePatchHeader...), ColSuccess, ColFailure, ColStatus)
)

func preRecord(r core.PrePatchRow) []string {
	return []string{r.AccountID, r.Region, r.RoleName, r.WindowID, r.WindowName, strconv.Itoa(r.TargetInstanceCount)}
}

func postRecord(r core.PostPatchRow) []string {
	return append(preRecord(r.PrePatchRow), strconv.Itoa(r.Success), strconv.Itoa(r.Failure), string(r.Status))
}

// EncodePrePatch writes rows as CSV with PrePatchHeader.
func EncodePrePatch(rows []core.PrePatchRow) ([]byte, error) {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, preRecord(r))
	}
	return encode(PrePatchHeader, records)
}

// EncodePostPatch writes rows as CSV with PostPatchHeader.
func EncodePostPatch(rows []core.PostPatchRow) ([]byte, error) {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, postRecord(r))
	}
	return encode(PostPatchHeader, records)
}

func encode(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("writing csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePrePatch parses a pre-patch report. Every row is validated: the
// account, role, region and window id must be present and the target count
// must be a non-negative integer. One bad row rejects the whole file.
func DecodePrePatch(data []byte) ([]core.PrePatchRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	records, idx, err := readWithHeader(bytes.NewReader(data), PrePatchHeader...)
	if err != nil {
		return nil, err
	}

	rows := make([]core.PrePatchRow, 0, len(records))
	for i, rec := range records {
		row, err := decodePreRecord(rec, idx, i+2)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodePostPatch parses a post-patch report. Files written before the Status
// column existed decode as resolved.
func DecodePostPatch(data []byte) ([]core.PostPatchRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	records, idx, err := readWithHeader(bytes.NewReader(data), append(append([]string{}, PrePatchHeader...), ColSuccess, ColFailure)...)
	if err != nil {
		return nil, err
	}

	rows := make([]core.PostPatchRow, 0, len(records))
	for i, rec := range records {
		line := i + 2
		pre, err := decodePreRecord(rec, idx, line)
		if err != nil {
			return nil, err
		}
		row := core.PostPatchRow{PrePatchRow: pre, Status: core.StatusResolved}
		if row.Success, err = nonNegative(rec, idx[ColSuccess], ColSuccess, line); err != nil {
			return nil, err
		}
		if row.Failure, err = nonNegative(rec, idx[ColFailure], ColFailure, line); err != nil {
			return nil, err
		}
		if i, ok := idx[ColStatus]; ok {
			switch s := core.StatusOutcome(field(rec, i)); s {
			case core.StatusResolved, core.StatusUnknown:
				row.Status = s
			case "":
			default:
				return nil, &core.MalformedInput{Field: fmt.Sprintf("%s (line %d)", ColStatus, line), Value: string(s), Reason: "expected resolved or unknown"}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodePreRecord(rec []string, idx map[string]int, line int) (core.PrePatchRow, error) {
	row := core.PrePatchRow{
		AccountID:  field(rec, idx[ColAccountIDReport]),
		Region:     field(rec, idx[ColRegionReport]),
		RoleName:   field(rec, idx[ColRoleNameReport]),
		WindowID:   field(rec, idx[ColWindowID]),
		WindowName: field(rec, idx[ColWindowName]),
	}
	for col, v := range map[string]string{
		ColAccountIDReport: row.AccountID,
		ColRegionReport:    row.Region,
		ColRoleNameReport:  row.RoleName,
		ColWindowID:        row.WindowID,
	} {
		if v == "" {
			return row, &core.MalformedInput{Field: fmt.Sprintf("%s (line %d)", col, line), Value: strings.Join(rec, ","), Reason: "value is required"}
		}
	}
	count, err := nonNegative(rec, idx[ColTargetCount], ColTargetCount, line)
	if err != nil {
		return row, err
	}
	row.TargetInstanceCount = count
	return row, nil
}

func nonNegative(rec []string, i int, col string, line int) (int, error) {
	raw := field(rec, i)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &core.MalformedInput{Field: fmt.Sprintf("%s (line %d)", col, line), Value: raw, Reason: "expected a non-negative integer"}
	}
	return n, nil
}

// Totals aggregates post-patch results. Unknown rows are counted separately
// and never contribute to Success or Failure.
type Totals struct {
	Windows int
	Targets int
	Success int
	Failure int
	Unknown int
}

// Summarize computes Totals over rows.
func Summarize(rows []core.PostPatchRow) Totals {
	var t Totals
	for _, r := range rows {
		t.Windows++
		t.Targets += r.TargetInstanceCount
		if r.Status == core.StatusUnknown {
			t.Unknown++
			continue
		}
		t.Success += r.Success
		t.Failure += r.Failure
	}
	return t
}
