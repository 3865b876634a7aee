package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// scriptedProber returns canned results per SOCKS address, optionally
// after a delay.
type scriptedProber struct {
	mu      sync.Mutex
	results map[string]monitor.NavResult
	delays  map[string]time.Duration
	calls   []string
}

func (p *scriptedProber) Probe(ctx context.Context, socksAddr, _ string) monitor.NavResult {
	p.mu.Lock()
	p.calls = append(p.calls, socksAddr)
	res, ok := p.results[socksAddr]
	delay := p.delays[socksAddr]
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return monitor.NavResult{Outcome: monitor.OutcomeUnreachable, Err: ctx.Err()}
		}
	}
	if !ok {
		return monitor.NavResult{Outcome: monitor.OutcomeUnreachable, Err: errors.New("no script")}
	}
	return res
}

func readyPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, _ := newTestPool(t, size, nil)
	for i := 0; i < size; i++ {
		p.setState(i, StateReady)
	}
	return p
}

func TestRaceFastestUnblockedWins(t *testing.T) {
	p := readyPool(t, 3)
	addr := func(i int) string { return p.Snapshots()[i].SocksAddr() }

	prober := &scriptedProber{
		results: map[string]monitor.NavResult{
			addr(0): {Outcome: monitor.OutcomeOK, HTML: "slow"},
			addr(1): {Outcome: monitor.OutcomeOK, HTML: "fast"},
			addr(2): {Outcome: monitor.OutcomeBlocked},
		},
		delays: map[string]time.Duration{
			addr(0): 300 * time.Millisecond,
			addr(1): 10 * time.Millisecond,
		},
	}
	r := NewRacer(p, nil, prober, 5*time.Second)

	res, err := r.Race(context.Background(), "https://example.com/page")
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	if res.Index != 1 || res.HTML != "fast" {
		t.Fatalf("expected instance 1 to win, got %+v", res)
	}

	// The slow OK from instance 0 must not overwrite the winner.
	time.Sleep(400 * time.Millisecond)
	if res.Index != 1 {
		t.Fatal("winner overwritten by a late result")
	}
	if p.Snapshots()[1].ProbeWins != 1 {
		t.Fatal("winning probe not recorded")
	}
}

func TestRaceBlockFeedsCooldown(t *testing.T) {
	p := readyPool(t, 2)
	addr := func(i int) string { return p.Snapshots()[i].SocksAddr() }
	prober := &scriptedProber{
		results: map[string]monitor.NavResult{
			addr(0): {Outcome: monitor.OutcomeBlocked},
			addr(1): {Outcome: monitor.OutcomeOK, HTML: "ok"},
		},
		delays: map[string]time.Duration{
			addr(1): 50 * time.Millisecond,
		},
	}
	r := NewRacer(p, nil, prober, 5*time.Second)

	if _, err := r.Race(context.Background(), "u"); err != nil {
		t.Fatalf("Race: %v", err)
	}
	if p.Snapshots()[0].LastBlock.IsZero() {
		t.Fatal("blocked probe must start that instance's cooldown")
	}
}

func TestRaceNeedsTwoCircuits(t *testing.T) {
	p := readyPool(t, 1)
	r := NewRacer(p, nil, &scriptedProber{}, time.Second)
	if _, err := r.Race(context.Background(), "u"); !errors.Is(err, errNotEnough) {
		t.Fatalf("expected errNotEnough, got %v", err)
	}
}

func TestRaceAllBlockedNoWinner(t *testing.T) {
	p := readyPool(t, 2)
	addr := func(i int) string { return p.Snapshots()[i].SocksAddr() }
	prober := &scriptedProber{
		results: map[string]monitor.NavResult{
			addr(0): {Outcome: monitor.OutcomeBlocked},
			addr(1): {Outcome: monitor.OutcomeBlocked},
		},
	}
	r := NewRacer(p, nil, prober, time.Second)
	if _, err := r.Race(context.Background(), "u"); !errors.Is(err, ErrNoWinner) {
		t.Fatalf("expected ErrNoWinner, got %v", err)
	}
}

func TestFetchFallsBackToSequential(t *testing.T) {
	// One ready instance: racing is skipped, sequential cycling runs.
	p := readyPool(t, 1)
	addr := p.Snapshots()[0].SocksAddr()
	prober := &scriptedProber{
		results: map[string]monitor.NavResult{
			addr: {Outcome: monitor.OutcomeOK, HTML: "sequential"},
		},
	}
	r := NewRacer(p, nil, prober, time.Second)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := r.Fetch(context.Background(), "u")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.HTML != "sequential" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFetchFallsBackToReferenceCircuit(t *testing.T) {
	p, _ := newTestPool(t, 1, nil) // nothing ready
	main := NewMain(testTorConfig(t, 1))
	main.control = func(string) controlClient { return &fakeControl{} }
	prober := &scriptedProber{
		results: map[string]monitor.NavResult{
			main.SocksAddr(): {Outcome: monitor.OutcomeOK, HTML: "reference"},
		},
	}
	r := NewRacer(p, main, prober, time.Second)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := r.Fetch(context.Background(), "u")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Index != -1 || res.HTML != "reference" {
		t.Fatalf("expected the reference circuit to serve, got %+v", res)
	}
}
