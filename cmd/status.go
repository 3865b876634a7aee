package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the 'status' subcommand. It queries a running
// instance's HTTP interface rather than local state, so it reflects the
// live process.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the status of a running monitor",
		RunE:  runStatusCommand,
	}
}

// apiBaseAddr normalizes the configured listen address into something a
// client can dial.
func apiBaseAddr(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("api.addr is not configured; a running instance cannot be queried")
	}
	if addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return addr, nil
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	addr, err := apiBaseAddr(a.Cfg.API.Addr)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, path := range []string{"/v1/status", "/v1/circuits", "/v1/strategies"} {
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+addr+path, nil)
		if err != nil {
			return fmt.Errorf("build status request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("query %s (is a monitor running?): %w", path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read %s response: %w", path, err)
		}

		var pretty any
		if err := json.Unmarshal(body, &pretty); err != nil {
			return fmt.Errorf("parse %s response: %w", path, err)
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return fmt.Errorf("render %s response: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", path, out)
	}
	return nil
}
