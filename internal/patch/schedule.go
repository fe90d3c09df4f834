package patch

import (
	"strings"
	"time"

	"github.com/patchwatch/patchwatch/internal/core"
)

// Layouts accepted for NextExecutionTime. SSM emits RFC 3339 with minute or
// second precision; naive timestamps are read as UTC.
var executionTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseExecutionTime parses an SSM NextExecutionTime value.
func ParseExecutionTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range executionTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &core.MalformedInput{Field: "next_execution_time", Value: s, Reason: "not an ISO-8601 timestamp"}
}

// RunsToday reports whether next falls inside the UTC calendar day containing now.
func RunsToday(next string, now time.Time) (bool, error) {
	t, err := ParseExecutionTime(next)
	if err != nil {
		return false, err
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	return !t.Before(start) && t.Before(end), nil
}

// WindowFilter selects the windows reported for today.
type WindowFilter struct {
	NamePrefix string // empty accepts every name
	Now        func() time.Time
}

// skipReason returns why w is excluded, or "" when it is selected. A
// malformed timestamp is returned as err.
func (f WindowFilter) skipReason(w core.MaintenanceWindow) (string, error) {
	if w.NextExecutionTime == "" {
		return "no next execution time", nil
	}
	if f.NamePrefix != "" && !strings.HasPrefix(w.Name, f.NamePrefix) {
		return "name does not match prefix", nil
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	today, err := RunsToday(w.NextExecutionTime, now())
	if err != nil {
		return "", err
	}
	if !today {
		return "not scheduled today", nil
	}
	return "", nil
}
