// patchwatch reports which SSM maintenance windows run today across many AWS
// accounts and, after patching, how each window's patch install went.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/patchwatch/patchwatch/cmd/patchwatch/cli"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "patchwatch",
		Short: "Multi-account maintenance window patch reporting",
		Long: `patchwatch assumes a role into every listed AWS account, finds the SSM
maintenance windows scheduled for today and counts their target instances
(pre-patch). After the windows run it tallies per-instance patch install
results (post-patch). Both reports are stored as CSV and emailed as HTML.`,
		Version:      version,
		SilenceUsage: true,
	}

	cli.RegisterGlobalFlags(rootCmd)
	cli.RegisterPhaseCommands(rootCmd)
	cli.RegisterConfigCommands(rootCmd)
	cli.RegisterLedgerCommands(rootCmd)
	cli.RegisterScopeCommands(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
