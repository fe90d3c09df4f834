// engine.go provides the Engine that wires the run ledger, audit chain and logger.
package core

import (
	"database/sql"
	"fmt"

	"github.com/patchwatch/patchwatch/internal/audit"
	"github.com/patchwatch/patchwatch/internal/db"
	"github.com/rs/zerolog"
)

// Engine owns the long-lived resources shared by every phase of a run.
type Engine struct {
	Ledger      *sql.DB
	AuditLogger *audit.Logger
	Logger      zerolog.Logger
}

// OpenEngine opens (or creates) the ledger at ledgerPath and continues its audit chain.
func OpenEngine(ledgerPath, operator string, logger zerolog.Logger) (*Engine, error) {
	ledger, err := db.OpenLedgerDB(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	al, err := audit.NewLogger(ledger, operator)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	return &Engine{
		Ledger:      ledger,
		AuditLogger: al,
		Logger:      logger,
	}, nil
}

// Close releases the ledger.
func (e *Engine) Close() error {
	var firstErr error
	if e.Ledger != nil {
		if err := e.Ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
