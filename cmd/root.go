// Package cmd defines the CLI commands for the fbmonitor executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/app"
	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can
// substitute a mock factory.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.NewApp(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fbmonitor",
		Short: "A resilient social-page monitoring agent.",
		Long: `fbmonitor watches public social-media pages for new posts and
comment activity. It routes traffic through a pool of anonymizing
circuits, races them for latency, rotates identities when blocked, and
re-extracts content through a cascade of fallback strategies.`,

		// Runs after flags parse but before the subcommand's RunE: load
		// config, bring up logging, then build and inject the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitConfig(cfgFile); err != nil {
				return fmt.Errorf("initialize configuration: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logging.Init(logging.Options{
				Development: cfg.Development,
				FilePath:    cfg.Log.File,
				MaxSizeMB:   cfg.Log.MaxSizeMB,
				MaxBackups:  cfg.Log.MaxBackups,
				MaxAgeDays:  cfg.Log.MaxAgeDays,
			})

			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/fbmonitor, $HOME/.fbmonitor)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newAccountsCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
