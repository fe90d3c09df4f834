package cli

import (
	"fmt"
	"strings"

	"github.com/patchwatch/patchwatch/internal/config"
	"github.com/patchwatch/patchwatch/internal/report"
	"github.com/patchwatch/patchwatch/internal/scope"
	"github.com/spf13/cobra"
)

// RegisterScopeCommands adds scope show and scope check.
func RegisterScopeCommands(root *cobra.Command) {
	scopeCmd := &cobra.Command{
		Use:   "scope",
		Short: "Inspect the account and region allowlists",
	}

	scopeCmd.AddCommand(newScopeShowCmd())
	scopeCmd.AddCommand(newScopeCheckCmd())

	root.AddCommand(scopeCmd)
}

func newScopeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(v, configPath)
			if err != nil {
				return err
			}
			s := cfg.Scope
			fmt.Println("Scope:")
			if len(s.AccountIDs) > 0 {
				fmt.Printf("  Accounts:  %s\n", strings.Join(s.AccountIDs, ", "))
			} else {
				fmt.Printf("  Accounts:  (unrestricted)\n")
			}
			if len(s.Regions) > 0 {
				fmt.Printf("  Regions:   %s\n", strings.Join(s.Regions, ", "))
			} else {
				fmt.Printf("  Regions:   (unrestricted)\n")
			}
			return nil
		},
	}
}

func newScopeCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [account-id region]",
		Short: "Check one account and region, or every row of the accounts file",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(v, configPath)
			if err != nil {
				return err
			}
			checker := scope.NewChecker(cfg.Scope)

			switch len(args) {
			case 2:
				if checker.IsInScope(args[0], args[1]) {
					fmt.Printf("IN SCOPE: %s %s\n", args[0], args[1])
					return nil
				}
				fmt.Printf("OUT OF SCOPE: %s %s\n", args[0], args[1])
				return nil
			case 0:
			default:
				return fmt.Errorf("pass both an account id and a region, or neither")
			}

			accounts, err := report.ReadAccountsFile(cfg.AccountsFile)
			if err != nil {
				return err
			}
			in, out := checker.Partition(accounts)
			for _, a := range in {
				fmt.Printf("IN SCOPE:     %s\n", a)
			}
			for _, sv := range out {
				fmt.Printf("OUT OF SCOPE: %s (%s)\n", sv.Resource, sv.Reason)
			}
			return nil
		},
	}
}
