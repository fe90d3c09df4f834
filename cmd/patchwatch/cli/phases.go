package cli

import (
	"time"

	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/spf13/cobra"
)

// RegisterPhaseCommands adds pre, post and run.
func RegisterPhaseCommands(root *cobra.Command) {
	root.AddCommand(newPreCmd())
	root.AddCommand(newPostCmd())
	root.AddCommand(newRunCmd())
}

func newPreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre",
		Short: "Report maintenance windows running today and their target counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openPhase(cmd.Context(), cmd, core.PhasePre)
			if err != nil {
				return err
			}
			defer env.Close()

			out, err := env.runner.RunPre(cmd.Context())
			if err != nil {
				return err
			}
			printOutcome("pre-patch", out)
			return nil
		},
	}
}

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post",
		Short: "Report patch install results for the windows in the pre-patch report",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openPhase(cmd.Context(), cmd, core.PhasePost)
			if err != nil {
				return err
			}
			defer env.Close()

			out, err := env.runner.RunPost(cmd.Context())
			if err != nil {
				return err
			}
			printOutcome("post-patch", out)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pre-patch, wait, then run post-patch",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openPhase(cmd.Context(), cmd, core.PhaseCombined)
			if err != nil {
				return err
			}
			defer env.Close()

			pre, post, err := env.runner.RunCombined(cmd.Context())
			printOutcome("pre-patch", pre)
			printOutcome("post-patch", post)
			return err
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "wait between the phases (overrides post_patch_delay)")
	v.BindPFlag("post_patch_delay", cmd.Flags().Lookup("delay"))
	return cmd
}
