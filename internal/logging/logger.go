// Package logging builds the zerolog loggers used by patchwatch: a console logger
// for interactive runs and a tee that also writes a JSON log file per run.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field names whose values must never reach a log sink.
var secretFieldNames = []string{
	"secretaccesskey",
	"secret_access_key",
	"sessiontoken",
	"session_token",
	"password",
	"secret",
	"credentials",
	"token",
}

// Matches a JSON string member: "key":"value".
var jsonStringField = regexp.MustCompile(`"([A-Za-z0-9_]+)":"((?:[^"\\]|\\.)*)"`)

// RedactingWriter sits between zerolog and a sink and replaces the values of
// secret-looking fields in each JSON event.
type RedactingWriter struct {
	inner io.Writer
}

// NewRedactingWriter creates a writer that redacts secret field values from log output.
func NewRedactingWriter(inner io.Writer) *RedactingWriter {
	return &RedactingWriter{inner: inner}
}

func (rw *RedactingWriter) Write(p []byte) (n int, err error) {
	out := jsonStringField.ReplaceAllFunc(p, func(m []byte) []byte {
		sub := jsonStringField.FindSubmatch(m)
		if !IsSecretField(string(sub[1])) {
			return m
		}
		return []byte(fmt.Sprintf(`"%s":"%s"`, sub[1], RedactValue(string(sub[2]))))
	})
	if _, err := rw.inner.Write(out); err != nil {
		return 0, err
	}
	// zerolog treats a short count as an error; report the caller's length.
	return len(p), nil
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a console logger on stderr.
func NewLogger(level string, runID string) zerolog.Logger {
	logger := zerolog.New(NewRedactingWriter(consoleWriter())).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("component", "patchwatch").
		Logger()

	if runID != "" {
		logger = logger.With().Str("run_id", runID).Logger()
	}

	return logger
}

// NewJSONLogger creates a JSON-formatted logger for file output or machine consumption.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(NewRedactingWriter(w)).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("component", "patchwatch").
		Logger()
}

// NewTeeLogger writes to the console at consoleLevel and to file as JSON at
// debug level, so the run log always carries the full trace.
func NewTeeLogger(consoleLevel string, file io.Writer, runID string) zerolog.Logger {
	console := zerolog.MultiLevelWriter(NewRedactingWriter(consoleWriter()))
	sinks := zerolog.MultiLevelWriter(
		levelFilter{w: console, min: parseLevel(consoleLevel)},
		NewRedactingWriter(file),
	)

	logger := zerolog.New(sinks).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("component", "patchwatch").
		Logger()

	if runID != "" {
		logger = logger.With().Str("run_id", runID).Logger()
	}
	return logger
}

// levelFilter drops events below min before they reach w.
type levelFilter struct {
	w   zerolog.LevelWriter
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < f.min {
		return len(p), nil
	}
	return f.w.WriteLevel(l, p)
}

// OpenRunLogFile creates dir if needed and opens logs/patchwatch_<phase>_<timestamp>.log.
func OpenRunLogFile(dir, phase string, now time.Time) (*os.File, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	name := fmt.Sprintf("patchwatch_%s_%s.log", phase, now.UTC().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return f, nil
}

// IsSecretField checks if a field name is a known secret field that should be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a hash prefix.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}
