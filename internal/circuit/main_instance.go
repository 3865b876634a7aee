package circuit

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/logging"
)

// Main manages the long-lived reference instance. Its warm directory
// cache seeds the pool instances, and it serves as the last-resort
// circuit when racing and sequential cycling both fail.
type Main struct {
	cfg     config.TorConfig
	cmd     *exec.Cmd
	control func(addr string) controlClient
}

// NewMain creates the reference-instance manager.
func NewMain(cfg config.TorConfig) *Main {
	return &Main{
		cfg: cfg,
		control: func(addr string) controlClient {
			return NewController(addr, cfg.ControlPassword, cfg.ControlTimeout)
		},
	}
}

// SocksAddr returns the reference instance's SOCKS endpoint.
func (m *Main) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.cfg.MainSocksPort)
}

func (m *Main) controlAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.cfg.MainControlPort)
}

func (m *Main) pidFile() string {
	return filepath.Join(m.cfg.DataRoot, "main-pid.json")
}

// Ensure makes sure the reference instance is up and bootstrapped. An
// already-running external instance is adopted rather than relaunched.
func (m *Main) Ensure(ctx context.Context) error {
	if pct, err := m.progress(ctx); err == nil && pct >= 100 {
		logging.L.Debug("reference circuit instance already running")
		return nil
	}

	KillStale(m.pidFile(), []int{m.cfg.MainSocksPort, m.cfg.MainControlPort})
	if err := ClearLock(m.cfg.MainDataDir); err != nil {
		return err
	}
	torrcPath, err := WriteTorrc(m.cfg.BaseTorrc, m.cfg.MainSocksPort, m.cfg.MainControlPort, m.cfg.MainDataDir)
	if err != nil {
		return err
	}
	cmd := exec.Command(m.cfg.Binary, "-f", torrcPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start reference instance: %w", err)
	}
	m.cmd = cmd
	go func() { _ = cmd.Wait() }()

	if err := WritePIDFile(m.pidFile(), []PIDRecord{{
		PID:         cmd.Process.Pid,
		SocksPort:   m.cfg.MainSocksPort,
		ControlPort: m.cfg.MainControlPort,
	}}); err != nil {
		logging.L.Warn("could not write reference pid file", zap.Error(err))
	}

	return m.waitBootstrap(ctx)
}

func (m *Main) waitBootstrap(ctx context.Context) error {
	deadline := time.NewTimer(m.cfg.BootstrapTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(2 * time.Second)
	defer tick.Stop()
	for {
		if pct, err := m.progress(ctx); err == nil && pct >= 100 {
			logging.L.Info("reference circuit instance bootstrapped")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("reference bootstrap canceled: %w", ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("reference instance not bootstrapped within %s", m.cfg.BootstrapTimeout)
		case <-tick.C:
		}
	}
}

func (m *Main) progress(ctx context.Context) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ControlTimeout)
	defer cancel()
	return m.control(m.controlAddr()).BootstrapProgress(cctx)
}

// Newnym requests a fresh circuit on the reference instance.
func (m *Main) Newnym(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ControlTimeout)
	defer cancel()
	return m.control(m.controlAddr()).Newnym(cctx)
}

// Stop kills the reference instance if this process launched it.
func (m *Main) Stop() {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		m.cmd = nil
	}
	if err := RemovePIDFile(m.pidFile()); err != nil {
		logging.L.Warn("could not remove reference pid file", zap.Error(err))
	}
}
