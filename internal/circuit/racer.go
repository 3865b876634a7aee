package circuit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Prober opens a minimal session through the given SOCKS endpoint,
// navigates, and classifies the result.
type Prober interface {
	Probe(ctx context.Context, socksAddr, url string) monitor.NavResult
}

// RaceResult is the winning probe of a race (or fallback fetch).
type RaceResult struct {
	Index     int
	SocksAddr string
	HTML      string
	FinalURL  string
}

// ErrNoWinner means every attempt came back blocked, dead, or late.
var ErrNoWinner = errors.New("no circuit produced an unblocked page")

// errNotEnough gates the racing phase; with fewer than two raceable
// circuits the amortization argument for racing disappears.
var errNotEnough = errors.New("fewer than two raceable circuits")

// Racer amortizes per-attempt page-load latency by probing several
// circuits at once and taking the fastest unblocked result. When racing
// is not possible it degrades to sequential cycling of the pool, then
// to the single reference circuit with exponential backoff.
type Racer struct {
	pool    *Pool
	main    *Main
	prober  Prober
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRacer builds a Racer over the pool and reference instance.
func NewRacer(pool *Pool, main *Main, prober Prober, timeout time.Duration) *Racer {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Racer{
		pool:    pool,
		main:    main,
		prober:  prober,
		timeout: timeout,
		sleep:   sleepCtx,
	}
}

// Fetch retrieves the target URL through the healthiest path available:
// race, then sequential cycling, then the reference circuit.
func (r *Racer) Fetch(ctx context.Context, url string) (*RaceResult, error) {
	res, err := r.Race(ctx, url)
	if err == nil {
		metrics.ObserveRace("winner")
		return res, nil
	}
	if !errors.Is(err, errNotEnough) {
		metrics.ObserveRace("no_winner")
		logging.L.Info("race yielded no winner, cycling pool sequentially",
			zap.String("url", url), zap.Error(err))
	} else {
		metrics.ObserveRace("skipped")
	}

	res, err = r.sequentialCycle(ctx, url)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logging.L.Info("sequential cycling failed, falling back to reference circuit",
		zap.String("url", url), zap.Error(err))
	return r.mainWithBackoff(ctx, url)
}

// Race probes every raceable circuit concurrently and returns the first
// unblocked result. Losing probes are cooperatively abandoned: the race
// context is canceled and any late results are discarded. Every outcome
// feeds back into pool health.
func (r *Racer) Race(ctx context.Context, url string) (*RaceResult, error) {
	snaps := r.pool.Raceable()
	if len(snaps) < 2 {
		return nil, errNotEnough
	}

	raceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		snap Snapshot
		res  monitor.NavResult
	}
	results := make(chan outcome, len(snaps))
	for _, snap := range snaps {
		go func(s Snapshot) {
			results <- outcome{s, r.prober.Probe(raceCtx, s.SocksAddr(), url)}
		}(snap)
	}

	for pending := len(snaps); pending > 0; pending-- {
		select {
		case <-raceCtx.Done():
			return nil, fmt.Errorf("race timed out after %s: %w", r.timeout, ErrNoWinner)
		case out := <-results:
			switch out.res.Outcome {
			case monitor.OutcomeOK:
				r.pool.RecordProbe(out.snap.Index, true)
				metrics.ObserveProbe("win")
				cancel()
				return &RaceResult{
					Index:     out.snap.Index,
					SocksAddr: out.snap.SocksAddr(),
					HTML:      out.res.HTML,
					FinalURL:  out.res.FinalURL,
				}, nil
			case monitor.OutcomeBlocked:
				logging.L.Debug("probe hit a block wall",
					zap.Int("index", out.snap.Index), zap.String("url", url))
				r.pool.RecordBlock(out.snap.Index)
				metrics.ObserveProbe("blocked")
			default:
				logging.L.Debug("probe failed",
					zap.Int("index", out.snap.Index), zap.Error(out.res.Err))
				r.pool.RecordProbe(out.snap.Index, false)
				metrics.ObserveProbe("error")
			}
		}
	}
	return nil, ErrNoWinner
}

// sequentialCycle tries each healthy instance in turn, twice. The
// second pass renews each circuit first and lets the renewal settle
// before probing.
func (r *Racer) sequentialCycle(ctx context.Context, url string) (*RaceResult, error) {
	const renewSettle = 12 * time.Second
	for pass := 0; pass < 2; pass++ {
		for _, snap := range r.pool.Healthy() {
			if pass == 1 {
				if err := r.pool.Renew(ctx, snap.Index); err != nil {
					logging.L.Debug("renewal before retry failed",
						zap.Int("index", snap.Index), zap.Error(err))
				}
				if err := r.sleep(ctx, renewSettle); err != nil {
					return nil, err
				}
			}
			res := r.prober.Probe(ctx, snap.SocksAddr(), url)
			switch res.Outcome {
			case monitor.OutcomeOK:
				r.pool.RecordProbe(snap.Index, true)
				return &RaceResult{
					Index:     snap.Index,
					SocksAddr: snap.SocksAddr(),
					HTML:      res.HTML,
					FinalURL:  res.FinalURL,
				}, nil
			case monitor.OutcomeBlocked:
				r.pool.RecordBlock(snap.Index)
			default:
				r.pool.RecordProbe(snap.Index, false)
			}
		}
	}
	return nil, ErrNoWinner
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mainWithBackoff is the last resort: the reference circuit alone, with
// a renewal and a growing delay between attempts.
func (r *Racer) mainWithBackoff(ctx context.Context, url string) (*RaceResult, error) {
	if r.main == nil {
		return nil, ErrNoWinner
	}
	const attempts = 3
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(3+attempt*2) * time.Second
			if err := r.main.Newnym(ctx); err != nil {
				logging.L.Debug("reference renewal failed", zap.Error(err))
			}
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		res := r.prober.Probe(ctx, r.main.SocksAddr(), url)
		if res.Outcome == monitor.OutcomeOK {
			return &RaceResult{
				Index:     -1,
				SocksAddr: r.main.SocksAddr(),
				HTML:      res.HTML,
				FinalURL:  res.FinalURL,
			}, nil
		}
	}
	return nil, ErrNoWinner
}
