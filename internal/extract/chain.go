package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Found is one discovered post plus the strategy that found it first.
type Found struct {
	monitor.PostRef
	Strategy string
}

// Chain runs every registered strategy in reliability order and unions
// the results by post identity.
type Chain struct {
	strategies []Strategy
	health     *HealthRegistry
}

// NewChain builds the standard chain. A nil mobile fetcher omits the
// mobile-page strategy.
func NewChain(clock monitor.Clock, mobile MobileFetcher) *Chain {
	strategies := DOMStrategies()
	if mobile != nil {
		// Mobile runs after the DOM passes but before the raw sweep.
		raw := strategies[len(strategies)-1]
		strategies = append(strategies[:len(strategies)-1], mobileStrategy(mobile), raw)
	}
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name
	}
	return &Chain{
		strategies: strategies,
		health:     NewHealthRegistry(clock, names...),
	}
}

// Health exposes the chain's health registry.
func (c *Chain) Health() *HealthRegistry { return c.health }

// Extract runs all strategies against the page. A strategy failure is
// logged and skipped, never aborts the chain. The first strategy to
// discover an item owns its provenance tag; later strategies only
// contribute items the earlier ones missed.
func (c *Chain) Extract(ctx context.Context, pageURL, html string) []Found {
	page := NewPageInput(pageURL, html)
	seen := make(map[string]struct{})
	var out []Found

	for _, strategy := range c.strategies {
		refs, err := strategy.Run(ctx, page)
		if err != nil {
			logging.L.Warn("extraction strategy failed",
				zap.String("strategy", strategy.Name),
				zap.String("page", pageURL),
				zap.Error(err))
			c.health.RecordRun(strategy.Name, 0)
			continue
		}

		found := 0
		for _, ref := range refs {
			if ref.ID == "" {
				continue
			}
			found++
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			out = append(out, Found{PostRef: ref, Strategy: strategy.Name})
		}
		c.health.RecordRun(strategy.Name, found)
		metrics.ObserveStrategy(strategy.Name, found)
	}
	return out
}
