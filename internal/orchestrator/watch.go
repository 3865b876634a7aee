package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/stealth"
)

// Watch runs monitoring cycles until the context is canceled. A failed
// or panicking cycle is logged and the loop continues; the watch only
// stops on cancellation.
func (o *Orchestrator) Watch(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		logging.L.Info("watch cycle starting", zap.Int("cycle", cycle))
		o.runSafely(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		interval := stealth.JitteredInterval(o.rng, o.cfg.Watch.Interval, o.cfg.Watch.JitterPct)
		logging.L.Info("watch sleeping until next cycle", zap.Duration("interval", interval))
		if err := o.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// runSafely contains one cycle's failures, including panics from deep
// inside extraction heuristics fed hostile markup.
func (o *Orchestrator) runSafely(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.L.Error("cycle panicked", zap.Any("panic", rec))
		}
	}()
	if err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
		logging.L.Warn("cycle finished with errors", zap.Error(err))
	}
}
