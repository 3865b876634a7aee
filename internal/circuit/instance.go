// Package circuit supervises a pool of anonymizing-network client
// processes: bootstrap, health monitoring, restarts, and racing.
package circuit

import (
	"fmt"
	"os/exec"
	"time"
)

// State is the lifecycle state of one circuit instance.
type State string

// Instance states. STALLED and FAILED are recoverable until the restart
// ceiling is hit; after that FAILED is terminal.
const (
	StateStarting      State = "starting"
	StateBootstrapping State = "bootstrapping"
	StateReady         State = "ready"
	StateStalled       State = "stalled"
	StateFailed        State = "failed"
)

// Instance is one supervised circuit process. All mutable fields are
// guarded by the owning Pool's mutex; the monitor loop is the only
// writer once the pool is running.
type Instance struct {
	Index       int
	SocksPort   int
	ControlPort int
	DataDir     string

	State        State
	BootstrapPct int
	LastProgress time.Time
	Restarts     int
	ProbeWins    int
	ProbeFails   int
	LastBlock    time.Time

	cmd  *exec.Cmd
	exit chan int
}

// SocksAddr returns the instance's local SOCKS endpoint.
func (i *Instance) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", i.SocksPort)
}

// ControlAddr returns the instance's control-channel endpoint.
func (i *Instance) ControlAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", i.ControlPort)
}

// inCooldown reports whether the instance is inside its post-block
// cooldown window.
func (i *Instance) inCooldown(now time.Time, cooldown time.Duration) bool {
	return !i.LastBlock.IsZero() && now.Sub(i.LastBlock) < cooldown
}

// exhausted reports whether the restart ceiling has been hit.
func (i *Instance) exhausted(maxRestarts int) bool {
	return i.State == StateFailed && i.Restarts >= maxRestarts
}

// Snapshot is a read-only copy of an instance's health fields, handed
// to the racer and the status surface.
type Snapshot struct {
	Index        int       `json:"index"`
	SocksPort    int       `json:"socks_port"`
	ControlPort  int       `json:"control_port"`
	State        State     `json:"state"`
	BootstrapPct int       `json:"bootstrap_pct"`
	Restarts     int       `json:"restarts"`
	ProbeWins    int       `json:"probe_wins"`
	ProbeFails   int       `json:"probe_fails"`
	LastBlock    time.Time `json:"last_block,omitempty"`
}

// SocksAddr returns the snapshot's local SOCKS endpoint.
func (s Snapshot) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.SocksPort)
}

func (i *Instance) snapshot() Snapshot {
	return Snapshot{
		Index:        i.Index,
		SocksPort:    i.SocksPort,
		ControlPort:  i.ControlPort,
		State:        i.State,
		BootstrapPct: i.BootstrapPct,
		Restarts:     i.Restarts,
		ProbeWins:    i.ProbeWins,
		ProbeFails:   i.ProbeFails,
		LastBlock:    i.LastBlock,
	}
}
