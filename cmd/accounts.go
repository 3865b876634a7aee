package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/session"
)

// newAccountsCmd groups account-session management: interactive login,
// listing saved profiles, and logout.
func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manages authenticated browser profiles",
	}
	cmd.AddCommand(newAccountsLoginCmd())
	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsLogoutCmd())
	return cmd
}

func newAccountsLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <account>",
		Short: "Opens a visible browser to log an account in",
		Long: `Opens a non-headless browser with the account's persistent profile.
Log in manually, then press Enter here; the saved cookies let later
monitoring runs use the authenticated identity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			account := args[0]
			profileDir := filepath.Join(a.Cfg.Session.ProfileDir, account)
			if err := os.MkdirAll(profileDir, 0o700); err != nil {
				return fmt.Errorf("create profile dir: %w", err)
			}

			s, err := session.New(cmd.Context(), a.Cfg.Session, session.Options{
				ProfileDir: profileDir,
				Headless:   false,
			}, nil)
			if err != nil {
				return fmt.Errorf("open login browser: %w", err)
			}
			defer s.Close()

			if res := s.Navigate(cmd.Context(), "https://www.facebook.com/login"); res.Err != nil {
				logging.L.Warn("login page load failed", zap.Error(res.Err))
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Log in as %q in the browser window, then press Enter to save the session.\n", account)
			reader := bufio.NewReader(cmd.InOrStdin())
			if _, err := reader.ReadString('\n'); err != nil {
				return fmt.Errorf("wait for confirmation: %w", err)
			}
			logging.L.Info("account profile saved", zap.String("account", account))
			fmt.Fprintf(cmd.OutOrStdout(), "profile for %q saved to %s\n", account, profileDir)
			return nil
		},
	}
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists saved account profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(a.Cfg.Session.ProfileDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "no saved accounts")
					return nil
				}
				return fmt.Errorf("read profile dir: %w", err)
			}
			found := false
			for _, e := range entries {
				if e.IsDir() {
					fmt.Fprintln(cmd.OutOrStdout(), e.Name())
					found = true
				}
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no saved accounts")
			}
			return nil
		},
	}
}

func newAccountsLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account>",
		Short: "Deletes an account's saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			account := args[0]
			profileDir := filepath.Join(a.Cfg.Session.ProfileDir, account)
			if _, err := os.Stat(profileDir); os.IsNotExist(err) {
				return fmt.Errorf("no saved profile for %q", account)
			}
			if err := os.RemoveAll(profileDir); err != nil {
				return fmt.Errorf("remove profile: %w", err)
			}
			logging.L.Info("account profile removed", zap.String("account", account))
			fmt.Fprintf(cmd.OutOrStdout(), "profile for %q removed\n", account)
			return nil
		},
	}
}
