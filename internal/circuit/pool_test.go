package circuit

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnowain/FB-Monitor/internal/config"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeControl struct {
	pct     atomic.Int32
	err     atomic.Value // error
	newnyms atomic.Int32
}

func (f *fakeControl) BootstrapProgress(context.Context) (int, error) {
	if err, ok := f.err.Load().(error); ok && err != nil {
		return 0, err
	}
	return int(f.pct.Load()), nil
}

func (f *fakeControl) Newnym(context.Context) error {
	f.newnyms.Add(1)
	if err, ok := f.err.Load().(error); ok && err != nil {
		return err
	}
	return nil
}

func testTorConfig(t *testing.T, size int) config.TorConfig {
	t.Helper()
	root := t.TempDir()
	return config.TorConfig{
		Binary:           "tor",
		BaseTorrc:        filepath.Join(root, "torrc"),
		DataRoot:         root,
		MainDataDir:      filepath.Join(root, "main"),
		PoolSize:         size,
		BaseSocksPort:    9150,
		BaseControlPort:  9250,
		BootstrapTimeout: 2 * time.Second,
		StallTimeout:     90 * time.Second,
		ControlTimeout:   time.Second,
		MonitorInterval:  10 * time.Second,
		SummaryInterval:  60 * time.Second,
		Cooldown:         5 * time.Minute,
		MaxRestarts:      3,
		RaceTimeout:      time.Second,
	}
}

// newTestPool wires a pool whose launches are no-ops and whose control
// channels are the given fakes, keyed by instance index.
func newTestPool(t *testing.T, size int, controls map[int]*fakeControl) (*Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p := NewPool(testTorConfig(t, size), clock)
	p.launch = func(*Instance) error { return nil }
	p.control = func(addr string) controlClient {
		for i, inst := range p.instances {
			if inst.ControlAddr() == addr {
				if c, ok := controls[i]; ok {
					return c
				}
			}
		}
		return &fakeControl{}
	}
	return p, clock
}

func (p *Pool) setState(index int, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[index].State = s
}

func TestBootstrapPromotion(t *testing.T) {
	ctl := &fakeControl{}
	p, _ := newTestPool(t, 1, map[int]*fakeControl{0: ctl})
	p.setState(0, StateBootstrapping)

	ctl.pct.Store(85)
	p.pollInstances(context.Background())
	if got := p.Snapshots()[0]; got.State != StateBootstrapping || got.BootstrapPct != 85 {
		t.Fatalf("expected bootstrapping at 85%%, got %+v", got)
	}

	ctl.pct.Store(100)
	p.pollInstances(context.Background())
	if got := p.Snapshots()[0]; got.State != StateReady {
		t.Fatalf("expected ready at 100%%, got %+v", got)
	}
}

func TestBootstrapStallDetection(t *testing.T) {
	ctl := &fakeControl{}
	ctl.pct.Store(40)
	p, clock := newTestPool(t, 1, map[int]*fakeControl{0: ctl})
	p.setState(0, StateBootstrapping)
	p.mu.Lock()
	p.instances[0].LastProgress = clock.now
	p.mu.Unlock()

	p.pollInstances(context.Background())
	if p.Snapshots()[0].State != StateBootstrapping {
		t.Fatal("should still be bootstrapping")
	}

	// Progress frozen past the stall timeout.
	clock.now = clock.now.Add(2 * time.Minute)
	p.pollInstances(context.Background())
	if got := p.Snapshots()[0].State; got != StateStalled {
		t.Fatalf("expected stalled, got %s", got)
	}
}

func TestReadyLivenessDemotion(t *testing.T) {
	ctl := &fakeControl{}
	ctl.err.Store(context.DeadlineExceeded)
	p, _ := newTestPool(t, 1, map[int]*fakeControl{0: ctl})
	p.setState(0, StateReady)

	p.pollInstances(context.Background())
	if got := p.Snapshots()[0].State; got != StateStalled {
		t.Fatalf("expected stalled after unreachable control channel, got %s", got)
	}
}

func TestRestartOnePerCycle(t *testing.T) {
	p, _ := newTestPool(t, 3, nil)
	for i := 0; i < 3; i++ {
		p.setState(i, StateStalled)
	}
	p.restartOne()

	relaunched := 0
	for _, s := range p.Snapshots() {
		if s.State == StateBootstrapping {
			relaunched++
		}
	}
	if relaunched != 1 {
		t.Fatalf("expected exactly one relaunch per cycle, got %d", relaunched)
	}
}

func TestRestartCeiling(t *testing.T) {
	p, _ := newTestPool(t, 1, nil)
	for i := 0; i < p.cfg.MaxRestarts+2; i++ {
		p.setState(0, StateStalled)
		p.restartOne()
	}

	snap := p.Snapshots()[0]
	if snap.State != StateFailed {
		t.Fatalf("expected permanently failed, got %s", snap.State)
	}
	if snap.Restarts != p.cfg.MaxRestarts {
		t.Fatalf("expected exactly %d restarts, got %d", p.cfg.MaxRestarts, snap.Restarts)
	}
	if len(p.Healthy()) != 0 || len(p.Raceable()) != 0 {
		t.Fatal("a failed instance must never be selectable")
	}

	// Further cycles leave it alone.
	p.restartOne()
	if got := p.Snapshots()[0].Restarts; got != p.cfg.MaxRestarts {
		t.Fatalf("restart count moved past the ceiling: %d", got)
	}
}

func TestRaceableCooldownAndFallback(t *testing.T) {
	p, clock := newTestPool(t, 2, nil)
	p.setState(0, StateReady)
	p.setState(1, StateReady)

	p.RecordBlock(0)
	raceable := p.Raceable()
	if len(raceable) != 1 || raceable[0].Index != 1 {
		t.Fatalf("expected only instance 1 raceable, got %+v", raceable)
	}

	// Every healthy instance in cooldown: fall back to all of them.
	p.RecordBlock(1)
	if got := len(p.Raceable()); got != 2 {
		t.Fatalf("expected cooldown fallback to all healthy, got %d", got)
	}

	// Cooldown expires.
	clock.now = clock.now.Add(p.cfg.Cooldown + time.Second)
	if got := len(p.Raceable()); got != 2 {
		t.Fatalf("expected both raceable after cooldown, got %d", got)
	}
}

func TestRecordBlockQueuesRenewal(t *testing.T) {
	p, _ := newTestPool(t, 1, nil)
	p.setState(0, StateReady)
	p.RecordBlock(0)
	select {
	case idx := <-p.renew:
		if idx != 0 {
			t.Fatalf("queued renewal for index %d", idx)
		}
	default:
		t.Fatal("block must queue a background renewal")
	}
}

func TestWaitReady(t *testing.T) {
	p, _ := newTestPool(t, 2, nil)
	p.setState(0, StateBootstrapping)
	p.setState(1, StateBootstrapping)

	go func() {
		time.Sleep(100 * time.Millisecond)
		p.setState(1, StateReady)
	}()
	n, err := p.WaitReady(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ready, got %d", n)
	}
}

func TestWaitReadyAllExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1, nil)
	p.mu.Lock()
	p.instances[0].State = StateFailed
	p.instances[0].Restarts = p.cfg.MaxRestarts
	p.mu.Unlock()

	if _, err := p.WaitReady(context.Background(), time.Second); err == nil {
		t.Fatal("expected error when every instance is exhausted")
	}
}

func TestStopWithoutStart(t *testing.T) {
	// Commands that only read local state build the pool but never
	// start it; shutdown must not wait on a monitor loop that does not
	// exist.
	p, _ := newTestPool(t, 2, nil)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung on a pool that was never started")
	}
}

func TestRenewAll(t *testing.T) {
	ctl0, ctl1 := &fakeControl{}, &fakeControl{}
	p, _ := newTestPool(t, 2, map[int]*fakeControl{0: ctl0, 1: ctl1})
	p.setState(0, StateReady)
	p.setState(1, StateReady)

	if err := p.RenewAll(context.Background()); err != nil {
		t.Fatalf("RenewAll: %v", err)
	}
	if ctl0.newnyms.Load() != 1 || ctl1.newnyms.Load() != 1 {
		t.Fatal("expected one renewal per healthy instance")
	}
}
