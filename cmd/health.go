package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the 'health' subcommand. Unlike 'status' it is
// pass/fail: the exit code reflects whether a running monitor is ready
// to serve, which makes it usable from cron or container health checks.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Checks the readiness of a running monitor",
		RunE:  runHealthCommand,
	}
}

func runHealthCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	addr, err := apiBaseAddr(a.Cfg.API.Addr)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	get := func(path string) (int, []byte, error) {
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+addr+path, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("build health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("query %s (is a monitor running?): %w", path, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("read %s response: %w", path, err)
		}
		return resp.StatusCode, body, nil
	}

	if code, _, err := get("/healthz"); err != nil {
		return err
	} else if code != http.StatusOK {
		return fmt.Errorf("monitor is unhealthy (healthz returned %d)", code)
	}

	readyCode, _, err := get("/readyz")
	if err != nil {
		return err
	}

	_, body, err := get("/v1/strategies")
	if err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return fmt.Errorf("parse strategies response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("render strategies response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "strategies:\n%s\n", out)

	if readyCode != http.StatusOK {
		return fmt.Errorf("monitor is not ready (readyz returned %d)", readyCode)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ready")
	return nil
}
