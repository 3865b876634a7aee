package circuit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// PIDRecord is one live instance recorded in the pool's PID side-file.
// The file exists only so a later run can kill processes a crashed run
// left behind.
type PIDRecord struct {
	PID         int `json:"pid"`
	SocksPort   int `json:"socks_port"`
	ControlPort int `json:"control_port"`
}

// LoadPIDFile reads a PID side-file. A missing file yields no records.
func LoadPIDFile(path string) ([]PIDRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pid file %s: %w", path, err)
	}
	var recs []PIDRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return recs, nil
}

// WritePIDFile records the current live instances.
func WritePIDFile(path string, recs []PIDRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pid records: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the side-file (normal shutdown path).
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// KillStale kills processes recorded in the PID file and anything still
// listening on the given ports. Run once at startup before launching
// the pool; a prior crashed run leaves orphans holding our ports.
func KillStale(pidFile string, ports []int) {
	recs, err := LoadPIDFile(pidFile)
	if err != nil {
		logging.L.Warn("could not read stale pid file", zap.Error(err))
	}
	for _, rec := range recs {
		killIfCircuitProcess(int32(rec.PID))
	}
	if len(recs) > 0 {
		if err := RemovePIDFile(pidFile); err != nil {
			logging.L.Warn("could not remove stale pid file", zap.Error(err))
		}
	}
	killPortListeners(ports)
}

func killIfCircuitProcess(pid int32) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return // already gone
	}
	name, err := p.Name()
	if err != nil || !strings.Contains(strings.ToLower(name), "tor") {
		// PID was recycled by an unrelated process; leave it alone.
		return
	}
	logging.L.Info("killing stale circuit process",
		zap.Int32("pid", pid), zap.String("name", name))
	if err := p.Kill(); err != nil {
		logging.L.Warn("failed to kill stale process",
			zap.Int32("pid", pid), zap.Error(err))
	}
}

func killPortListeners(ports []int) {
	if len(ports) == 0 {
		return
	}
	wanted := make(map[uint32]struct{}, len(ports))
	for _, p := range ports {
		wanted[uint32(p)] = struct{}{}
	}
	conns, err := gnet.Connections("tcp")
	if err != nil {
		logging.L.Warn("could not enumerate tcp listeners", zap.Error(err))
		return
	}
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Pid == 0 {
			continue
		}
		if _, ok := wanted[conn.Laddr.Port]; !ok {
			continue
		}
		logging.L.Info("killing listener on reserved port",
			zap.Uint32("port", conn.Laddr.Port), zap.Int32("pid", conn.Pid))
		killIfCircuitProcess(conn.Pid)
	}
}
