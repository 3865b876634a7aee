package circuit

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Pool supervises N parallel circuit processes. A background monitor
// polls each instance every cycle, promotes bootstrapped instances to
// READY, demotes stalled ones, and restarts at most one failed instance
// per cycle up to a per-instance ceiling.
type Pool struct {
	cfg   config.TorConfig
	clock monitor.Clock

	mu        sync.Mutex
	instances []*Instance
	started   bool

	stop        chan struct{}
	done        chan struct{}
	renew       chan int
	lastSummary time.Time

	// Injection points for tests; defaults run real processes.
	launch  func(inst *Instance) error
	control func(addr string) controlClient
}

// NewPool creates a pool of cfg.PoolSize instances. Ports are assigned
// sequentially from the configured bases.
func NewPool(cfg config.TorConfig, clock monitor.Clock) *Pool {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	p := &Pool{
		cfg:   cfg,
		clock: clock,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		renew: make(chan int, 16),
	}
	p.launch = p.launchProcess
	p.control = func(addr string) controlClient {
		return NewController(addr, cfg.ControlPassword, cfg.ControlTimeout)
	}
	for i := 0; i < cfg.PoolSize; i++ {
		p.instances = append(p.instances, &Instance{
			Index:       i,
			SocksPort:   cfg.BaseSocksPort + i,
			ControlPort: cfg.BaseControlPort + i,
			DataDir:     filepath.Join(cfg.DataRoot, fmt.Sprintf("pool-%d", i)),
			State:       StateStarting,
		})
	}
	return p
}

func (p *Pool) pidFile() string {
	return filepath.Join(p.cfg.DataRoot, "pool-pids.json")
}

func (p *Pool) allPorts() []int {
	var ports []int
	for _, inst := range p.instances {
		ports = append(ports, inst.SocksPort, inst.ControlPort)
	}
	return ports
}

// Start kills orphans from a prior crashed run, launches every
// instance, records their PIDs, and starts the monitor loop.
func (p *Pool) Start(ctx context.Context) error {
	KillStale(p.pidFile(), p.allPorts())

	p.mu.Lock()
	var recs []PIDRecord
	for _, inst := range p.instances {
		if err := p.prepareAndLaunch(inst); err != nil {
			logging.L.Error("failed to launch circuit instance",
				zap.Int("index", inst.Index), zap.Error(err))
			inst.State = StateFailed
			continue
		}
		if inst.cmd != nil && inst.cmd.Process != nil {
			recs = append(recs, PIDRecord{
				PID:         inst.cmd.Process.Pid,
				SocksPort:   inst.SocksPort,
				ControlPort: inst.ControlPort,
			})
		}
	}
	p.mu.Unlock()

	if err := WritePIDFile(p.pidFile(), recs); err != nil {
		logging.L.Warn("could not write pool pid file", zap.Error(err))
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.monitorLoop(ctx)
	go p.renewalLoop(ctx)
	return nil
}

// prepareAndLaunch seeds, configures, and launches one instance.
// Caller holds mu.
func (p *Pool) prepareAndLaunch(inst *Instance) error {
	if err := SeedCache(p.cfg.MainDataDir, inst.DataDir); err != nil {
		logging.L.Warn("cache seed failed, cold bootstrap",
			zap.Int("index", inst.Index), zap.Error(err))
	}
	if err := ClearLock(inst.DataDir); err != nil {
		return err
	}
	if err := p.launch(inst); err != nil {
		return err
	}
	inst.State = StateBootstrapping
	inst.BootstrapPct = 0
	inst.LastProgress = p.clock.Now()
	return nil
}

func (p *Pool) launchProcess(inst *Instance) error {
	torrcPath, err := WriteTorrc(p.cfg.BaseTorrc, inst.SocksPort, inst.ControlPort, inst.DataDir)
	if err != nil {
		return err
	}
	cmd := exec.Command(p.cfg.Binary, "-f", torrcPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start circuit process: %w", err)
	}
	exit := make(chan int, 1)
	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
		}
		exit <- code
	}()
	inst.cmd = cmd
	inst.exit = exit
	return nil
}

// WaitReady blocks until at least one instance is READY, every instance
// has exhausted its restarts, or the timeout elapses. Returns the ready
// count.
func (p *Pool) WaitReady(ctx context.Context, timeout time.Duration) (int, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		ready, alive := p.readyAndAlive()
		if ready > 0 {
			return ready, nil
		}
		if alive == 0 {
			return 0, fmt.Errorf("all %d circuit instances exhausted their restarts", len(p.instances))
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("wait for pool canceled: %w", ctx.Err())
		case <-deadline.C:
			return 0, fmt.Errorf("no circuit instance ready within %s", timeout)
		case <-tick.C:
		}
	}
}

func (p *Pool) readyAndAlive() (ready, alive int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		if inst.State == StateReady {
			ready++
		}
		if !inst.exhausted(p.cfg.MaxRestarts) {
			alive++
		}
	}
	return ready, alive
}

// Healthy returns snapshots of all READY instances.
func (p *Pool) Healthy() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Snapshot
	for _, inst := range p.instances {
		if inst.State == StateReady {
			out = append(out, inst.snapshot())
		}
	}
	return out
}

// Raceable returns READY instances outside their post-block cooldown.
// When every healthy instance is cooling down, all of them are returned
// rather than none; a cooled-down circuit beats no circuit.
func (p *Pool) Raceable() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	var ready, raceable []Snapshot
	for _, inst := range p.instances {
		if inst.State != StateReady {
			continue
		}
		snap := inst.snapshot()
		ready = append(ready, snap)
		if !inst.inCooldown(now, p.cfg.Cooldown) {
			raceable = append(raceable, snap)
		}
	}
	if len(raceable) == 0 {
		return ready
	}
	return raceable
}

// Snapshots returns the state of every instance for status output.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// RecordProbe feeds a racing probe outcome back into instance health.
func (p *Pool) RecordProbe(index int, win bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst := p.instanceByIndex(index)
	if inst == nil {
		return
	}
	if win {
		inst.ProbeWins++
	} else {
		inst.ProbeFails++
	}
}

// RecordBlock marks a detected block: the instance enters cooldown and
// a background circuit renewal is queued.
func (p *Pool) RecordBlock(index int) {
	p.mu.Lock()
	inst := p.instanceByIndex(index)
	if inst == nil {
		p.mu.Unlock()
		return
	}
	inst.LastBlock = p.clock.Now()
	inst.ProbeFails++
	p.mu.Unlock()

	select {
	case p.renew <- index:
	default:
		// Renewal queue full; the circuit stays in cooldown either way.
	}
}

// Renew issues a fresh-circuit request on one instance.
func (p *Pool) Renew(ctx context.Context, index int) error {
	p.mu.Lock()
	inst := p.instanceByIndex(index)
	var addr string
	if inst != nil {
		addr = inst.ControlAddr()
	}
	p.mu.Unlock()
	if addr == "" {
		return fmt.Errorf("no instance with index %d", index)
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ControlTimeout)
	defer cancel()
	if err := p.control(addr).Newnym(cctx); err != nil {
		return fmt.Errorf("renew instance %d: %w", index, err)
	}
	metrics.ObserveRotation()
	return nil
}

// RenewAll requests a fresh circuit on every READY instance. Succeeds
// if at least one renewal goes through.
func (p *Pool) RenewAll(ctx context.Context) error {
	healthy := p.Healthy()
	if len(healthy) == 0 {
		return fmt.Errorf("no healthy circuit instances to renew")
	}
	ok := 0
	for _, snap := range healthy {
		ctl := p.control(fmt.Sprintf("127.0.0.1:%d", snap.ControlPort))
		if err := ctl.Newnym(ctx); err != nil {
			logging.L.Warn("renewal failed",
				zap.Int("index", snap.Index), zap.Error(err))
			continue
		}
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("all %d renewals failed", len(healthy))
	}
	metrics.ObserveRotation()
	return nil
}

// Stop terminates all instances and clears the PID side-file. Safe to
// call on a pool that was never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	if started {
		// The monitor loop closes done on its way out.
		<-p.done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		p.killInstance(inst)
	}
	if err := RemovePIDFile(p.pidFile()); err != nil {
		logging.L.Warn("could not remove pool pid file", zap.Error(err))
	}
}

// killInstance kills the process if it is still running. Caller holds mu.
func (p *Pool) killInstance(inst *Instance) {
	if inst.cmd != nil && inst.cmd.Process != nil {
		_ = inst.cmd.Process.Kill()
	}
	inst.cmd = nil
}

func (p *Pool) instanceByIndex(index int) *Instance {
	for _, inst := range p.instances {
		if inst.Index == index {
			return inst
		}
	}
	return nil
}

func (p *Pool) monitorLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.monitorOnce(ctx)
		}
	}
}

// monitorOnce runs one supervision cycle: crash detection, bootstrap
// and liveness polling, at most one restart, and the periodic summary.
func (p *Pool) monitorOnce(ctx context.Context) {
	p.detectCrashes()
	p.pollInstances(ctx)
	p.restartOne()
	p.maybeLogSummary()
	p.publishGauges()
}

func (p *Pool) detectCrashes() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		if inst.exit == nil || inst.State == StateFailed {
			continue
		}
		select {
		case code := <-inst.exit:
			logging.L.Warn("circuit process exited",
				zap.Int("index", inst.Index), zap.Int("exit_code", code))
			inst.State = StateFailed
			inst.exit = nil
		default:
		}
	}
}

// pollInstances queries control channels outside the lock, then applies
// the results.
func (p *Pool) pollInstances(ctx context.Context) {
	p.mu.Lock()
	type target struct {
		index int
		addr  string
		state State
	}
	var targets []target
	for _, inst := range p.instances {
		if inst.State == StateBootstrapping || inst.State == StateReady {
			targets = append(targets, target{inst.Index, inst.ControlAddr(), inst.State})
		}
	}
	p.mu.Unlock()

	type result struct {
		index int
		pct   int
		err   error
	}
	results := make([]result, len(targets))
	for i, t := range targets {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.ControlTimeout)
		pct, err := p.control(t.addr).BootstrapProgress(cctx)
		cancel()
		results[i] = result{t.index, pct, err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for _, r := range results {
		inst := p.instanceByIndex(r.index)
		if inst == nil || (inst.State != StateBootstrapping && inst.State != StateReady) {
			continue
		}
		if r.err != nil {
			// Control channel unreachable. READY instances stall
			// immediately; bootstrapping ones stall when progress
			// stops advancing for too long.
			if inst.State == StateReady {
				logging.L.Warn("ready instance unresponsive, demoting",
					zap.Int("index", inst.Index), zap.Error(r.err))
				inst.State = StateStalled
			} else if now.Sub(inst.LastProgress) > p.cfg.StallTimeout {
				logging.L.Warn("bootstrap stalled",
					zap.Int("index", inst.Index),
					zap.Int("pct", inst.BootstrapPct))
				inst.State = StateStalled
			}
			continue
		}
		if r.pct > inst.BootstrapPct {
			inst.BootstrapPct = r.pct
			inst.LastProgress = now
		}
		switch {
		case inst.State == StateBootstrapping && r.pct >= 100:
			inst.State = StateReady
			logging.L.Info("circuit instance ready", zap.Int("index", inst.Index))
		case inst.State == StateBootstrapping && now.Sub(inst.LastProgress) > p.cfg.StallTimeout:
			logging.L.Warn("bootstrap progress stalled",
				zap.Int("index", inst.Index), zap.Int("pct", inst.BootstrapPct))
			inst.State = StateStalled
		}
	}
}

// restartOne relaunches at most one stalled or failed instance per
// cycle, up to the per-instance ceiling. One-per-cycle stops a
// correlated failure from triggering a thundering herd of relaunches.
func (p *Pool) restartOne() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		if inst.State != StateStalled && inst.State != StateFailed {
			continue
		}
		if inst.Restarts >= p.cfg.MaxRestarts {
			if inst.State != StateFailed {
				logging.L.Error("instance exhausted restarts, leaving failed",
					zap.Int("index", inst.Index), zap.Int("restarts", inst.Restarts))
				inst.State = StateFailed
			}
			continue
		}
		logging.L.Info("restarting circuit instance",
			zap.Int("index", inst.Index),
			zap.Int("restart", inst.Restarts+1),
			zap.Int("ceiling", p.cfg.MaxRestarts))
		p.killInstance(inst)
		killPortListeners([]int{inst.SocksPort, inst.ControlPort})
		inst.Restarts++
		if err := p.prepareAndLaunch(inst); err != nil {
			logging.L.Error("restart failed",
				zap.Int("index", inst.Index), zap.Error(err))
			inst.State = StateFailed
		}
		metrics.ObserveRestart()
		return
	}
}

func (p *Pool) maybeLogSummary() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if now.Sub(p.lastSummary) < p.cfg.SummaryInterval {
		return
	}
	p.lastSummary = now
	counts := map[State]int{}
	for _, inst := range p.instances {
		counts[inst.State]++
	}
	logging.L.Info("circuit pool health",
		zap.Int("ready", counts[StateReady]),
		zap.Int("bootstrapping", counts[StateBootstrapping]),
		zap.Int("stalled", counts[StateStalled]),
		zap.Int("failed", counts[StateFailed]))
}

func (p *Pool) publishGauges() {
	p.mu.Lock()
	counts := map[State]int{
		StateStarting: 0, StateBootstrapping: 0,
		StateReady: 0, StateStalled: 0, StateFailed: 0,
	}
	for _, inst := range p.instances {
		counts[inst.State]++
	}
	p.mu.Unlock()
	for state, n := range counts {
		metrics.SetPoolState(string(state), n)
	}
}

// renewalLoop serves queued post-block renewals on one worker, so a
// burst of blocks never fans out into a goroutine per event.
func (p *Pool) renewalLoop(ctx context.Context) {
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case index := <-p.renew:
			p.mu.Lock()
			inst := p.instanceByIndex(index)
			var addr string
			if inst != nil {
				addr = inst.ControlAddr()
			}
			p.mu.Unlock()
			if addr == "" {
				continue
			}
			cctx, cancel := context.WithTimeout(ctx, p.cfg.ControlTimeout)
			err := p.control(addr).Newnym(cctx)
			cancel()
			if err != nil {
				logging.L.Warn("background renewal failed",
					zap.Int("index", index), zap.Error(err))
				continue
			}
			metrics.ObserveRotation()
			logging.L.Debug("background renewal complete", zap.Int("index", index))
		}
	}
}
