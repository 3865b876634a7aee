package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// newRunCmd creates the 'run' subcommand: one full monitoring cycle.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs a single monitoring cycle",
		Long: `Launches the circuit pool, visits every configured page once,
re-checks tracked posts that are due, imports the backlog, then exits.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.StartCircuits(cmd.Context()); err != nil {
		return fmt.Errorf("start circuits: %w", err)
	}
	a.StartAPI()

	o, err := a.Orchestrator()
	if err != nil {
		return err
	}
	if err := o.RunCycle(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("monitoring cycle: %w", err)
	}
	logging.L.Info("run finished")
	return nil
}
