package cli

import (
	"fmt"

	"github.com/patchwatch/patchwatch/internal/config"
	"github.com/spf13/cobra"
)

// RegisterConfigCommands adds config init and config show.
func RegisterConfigCommands(root *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())

	root.AddCommand(configCmd)
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigFile
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set shared_account, report.bucket and email before running a phase.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after flags, env and file are merged",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(v, configPath)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))

			if validate {
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				fmt.Println("# configuration is valid")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "also validate the configuration")
	return cmd
}
