package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// newWatchCmd creates the 'watch' subcommand: continuous monitoring.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Monitors continuously until interrupted",
		Long: `Runs monitoring cycles in a loop, sleeping a jittered interval
between cycles. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.StartCircuits(ctx); err != nil {
		return fmt.Errorf("start circuits: %w", err)
	}
	a.StartAPI()

	o, err := a.Orchestrator()
	if err != nil {
		return err
	}
	if err := o.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch loop: %w", err)
	}
	logging.L.Info("watch stopped")
	return nil
}
