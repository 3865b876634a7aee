package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// newResetCmd creates the 'reset' subcommand: discard tracking state so
// the next run starts from a clean slate.
func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Deletes the persisted tracking state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.State.Reset(); err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
			logging.L.Info("tracking state reset")
			fmt.Fprintln(cmd.OutOrStdout(), "tracking state deleted")
			return nil
		},
	}
}
