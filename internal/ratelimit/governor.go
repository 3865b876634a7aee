// Package ratelimit implements a sliding-window request governor with
// per-identity-class budgets. When a required wait is long and the
// caller can rotate to a fresh circuit instead, rotation is preferred.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Identity classes. Each owns an independent window and budget.
const (
	ClassAnonymous     = "anonymous"
	ClassAuthenticated = "authenticated"
)

const window = time.Hour

// RotateFunc requests a circuit rotation. A nil error means the rotation
// succeeded and the class window may be reset.
type RotateFunc func(ctx context.Context) error

type classWindow struct {
	times []time.Time
	max   int
}

// Governor tracks request timestamps per identity class.
type Governor struct {
	mu      sync.Mutex
	classes map[string]*classWindow
	// RotateThreshold is the wait above which rotation is preferred.
	rotateThreshold time.Duration
	clock           monitor.Clock
	rng             *rand.Rand
	sleep           func(ctx context.Context, d time.Duration) error
}

// Config holds governor budgets.
type Config struct {
	AnonymousPerHour     int
	AuthenticatedPerHour int
	RotateThreshold      time.Duration
}

// New creates a Governor with the given hourly budgets.
func New(cfg Config, clock monitor.Clock) *Governor {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	threshold := cfg.RotateThreshold
	if threshold <= 0 {
		threshold = 60 * time.Second
	}
	return &Governor{
		classes: map[string]*classWindow{
			ClassAnonymous:     {max: cfg.AnonymousPerHour},
			ClassAuthenticated: {max: cfg.AuthenticatedPerHour},
		},
		rotateThreshold: threshold,
		clock:           clock,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:           sleepCtx,
	}
}

// Record appends a request timestamp to the class window.
func (g *Governor) Record(class string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.class(class)
	w.times = append(w.times, g.clock.Now())
}

// Reset clears the class window. Called after a successful rotation,
// since a fresh exit starts with a fresh budget.
func (g *Governor) Reset(class string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.class(class).times = nil
}

// Count returns the in-window request count for the class.
func (g *Governor) Count(class string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.class(class)
	g.prune(w)
	return len(w.times)
}

// ShouldWait returns the pause required before the next request, or zero.
// At or over budget the wait runs until the oldest request ages out of
// the window, plus jitter. Above 80% of budget a shorter pacing pause is
// returned to flatten the approach to the ceiling.
func (g *Governor) ShouldWait(class string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.class(class)
	g.prune(w)
	if w.max <= 0 {
		return 0
	}
	if len(w.times) >= w.max {
		oldest := w.times[0]
		wait := oldest.Add(window).Sub(g.clock.Now())
		if wait < 0 {
			wait = 0
		}
		return wait + g.jitter(10*time.Second, 60*time.Second)
	}
	if float64(len(w.times)) > 0.8*float64(w.max) {
		return g.jitter(30*time.Second, 90*time.Second)
	}
	return 0
}

// WaitIfNeeded blocks until the class has budget. If the computed wait
// exceeds the rotation threshold and a rotate callback is available,
// rotation is attempted instead of sleeping; success empties the window.
func (g *Governor) WaitIfNeeded(ctx context.Context, class string, rotate RotateFunc) error {
	wait := g.ShouldWait(class)
	if wait <= 0 {
		return nil
	}
	if wait > g.rotateThreshold && rotate != nil {
		logging.L.Info("rate budget exhausted, rotating circuit instead of waiting",
			zap.String("class", class), zap.Duration("wait", wait))
		if err := rotate(ctx); err == nil {
			g.Reset(class)
			return nil
		} else {
			logging.L.Warn("rotation failed, falling back to wait",
				zap.String("class", class), zap.Error(err))
		}
	}
	logging.L.Info("rate governor pausing",
		zap.String("class", class), zap.Duration("wait", wait))
	metrics.ObserveRateWait(class, wait)
	if err := g.sleep(ctx, wait); err != nil {
		return fmt.Errorf("rate wait interrupted: %w", err)
	}
	return nil
}

func (g *Governor) class(name string) *classWindow {
	w, ok := g.classes[name]
	if !ok {
		w = &classWindow{max: 30}
		g.classes[name] = w
	}
	return w
}

// prune drops timestamps older than the trailing window. Caller holds mu.
func (g *Governor) prune(w *classWindow) {
	cutoff := g.clock.Now().Add(-window)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

func (g *Governor) jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(g.rng.Int63n(int64(max-min)))
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
