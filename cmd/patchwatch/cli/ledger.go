package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/patchwatch/patchwatch/internal/audit"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/spf13/cobra"
)

// RegisterLedgerCommands adds runs and audit.
func RegisterLedgerCommands(root *cobra.Command) {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded phase runs",
	}
	runsCmd.AddCommand(newRunsListCmd())

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	auditCmd.AddCommand(newAuditVerifyCmd(), newAuditShowCmd())

	root.AddCommand(runsCmd)
	root.AddCommand(auditCmd)
}

func newRunsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			runs, err := core.ListRuns(engine.Ledger, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			fmt.Printf("%-36s  %-8s  %-7s  %7s  %-20s  %s\n", "RUN", "PHASE", "STATUS", "RECORDS", "STARTED", "ERROR")
			for _, r := range runs {
				fmt.Printf("%-36s  %-8s  %-7s  %7d  %-20s  %s\n",
					r.UUID, r.Phase, r.Status, r.Records, r.StartedAt.Format(time.RFC3339), truncate(r.Error, 60))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			valid, count, err := audit.Verify(engine.Ledger)
			if !valid {
				fmt.Printf("Audit chain BROKEN after %d valid records\n", count)
				if err != nil {
					return err
				}
				return fmt.Errorf("audit chain verification failed")
			}
			fmt.Printf("Audit chain intact: %d records verified\n", count)
			return nil
		},
	}
}

func newAuditShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-uuid>",
		Short: "Show the audit events of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			events, err := audit.Events(engine.Ledger, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			if len(events) == 0 {
				fmt.Printf("No audit events for run %s.\n", args[0])
				return nil
			}
			for _, e := range events {
				fmt.Printf("%-30s  %-18s  %-12s  %s\n", e.Timestamp, e.Event, e.AccountID, truncate(string(e.Detail), 80))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
