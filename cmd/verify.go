package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/orchestrator"
)

// newVerifyCmd creates the 'verify' subcommand: prove that traffic
// actually exits through the anonymizing network before monitoring.
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verifies circuits exit through the anonymizing network",
		Long: `Starts the reference circuit and the pool, then checks each one
against the network's own exit-check service. Fails if any circuit
leaks a direct connection.`,
		RunE: runVerifyCommand,
	}
}

func runVerifyCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.StartCircuits(cmd.Context()); err != nil {
		return fmt.Errorf("start circuits: %w", err)
	}

	addrs := []string{a.Main.SocksAddr()}
	for _, snap := range a.Pool.Healthy() {
		addrs = append(addrs, snap.SocksAddr())
	}

	failed := 0
	for _, addr := range addrs {
		res, err := orchestrator.VerifyCircuit(cmd.Context(), addr)
		switch {
		case err != nil:
			logging.L.Error("circuit check failed", zap.String("socks", addr), zap.Error(err))
			failed++
		case !res.IsRelayed:
			logging.L.Error("circuit exits DIRECTLY, traffic is not anonymized",
				zap.String("socks", addr), zap.String("exit_ip", res.ExitIP))
			failed++
		default:
			logging.L.Info("circuit verified",
				zap.String("socks", addr), zap.String("exit_ip", res.ExitIP))
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (relayed)\n", addr, res.ExitIP)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d circuits failed verification", failed, len(addrs))
	}
	if len(addrs) == 0 {
		return errors.New("no circuits available to verify")
	}
	return nil
}
