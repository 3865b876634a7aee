package extract

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// DegradedThreshold is the consecutive-zero-result count at which a
// strategy is considered cold.
const DegradedThreshold = 5

// StrategyHealth is the rolling record for one strategy.
type StrategyHealth struct {
	Name             string    `json:"name"`
	TotalRuns        int       `json:"total_runs"`
	TotalFound       int       `json:"total_found"`
	ConsecutiveZeros int       `json:"consecutive_zeros"`
	LastSuccess      time.Time `json:"last_success,omitempty"`
}

// Degraded reports whether the strategy has gone cold.
func (h StrategyHealth) Degraded() bool {
	return h.ConsecutiveZeros >= DegradedThreshold
}

// HealthRegistry tracks success/failure per strategy across a session.
// The all-degraded critical fires once per session: it signals the
// target's markup changed structurally and needs a human, and repeating
// it every cycle would drown the log.
type HealthRegistry struct {
	mu            sync.Mutex
	records       map[string]*StrategyHealth
	clock         monitor.Clock
	criticalFired bool
	onCritical    func()
}

// NewHealthRegistry creates a registry for the named strategies.
func NewHealthRegistry(clock monitor.Clock, names ...string) *HealthRegistry {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	records := make(map[string]*StrategyHealth, len(names))
	for _, n := range names {
		records[n] = &StrategyHealth{Name: n}
	}
	return &HealthRegistry{records: records, clock: clock}
}

// OnAllDegraded registers a hook invoked (once per session) when every
// strategy has gone cold.
func (r *HealthRegistry) OnAllDegraded(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCritical = fn
}

// RecordRun updates a strategy's record after one run.
func (r *HealthRegistry) RecordRun(name string, found int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		rec = &StrategyHealth{Name: name}
		r.records[name] = rec
	}
	rec.TotalRuns++
	rec.TotalFound += found
	if found > 0 {
		rec.ConsecutiveZeros = 0
		rec.LastSuccess = r.clock.Now()
		return
	}
	rec.ConsecutiveZeros++
	if rec.ConsecutiveZeros == DegradedThreshold {
		logging.L.Warn("extraction strategy degraded",
			zap.String("strategy", name),
			zap.Int("consecutive_zeros", rec.ConsecutiveZeros))
	}
	r.checkAllDegraded()
}

// checkAllDegraded fires the critical alert exactly once. Caller holds mu.
func (r *HealthRegistry) checkAllDegraded() {
	if r.criticalFired || len(r.records) == 0 {
		return
	}
	for _, rec := range r.records {
		if !rec.Degraded() {
			return
		}
	}
	r.criticalFired = true
	logging.L.Error("ALL extraction strategies degraded; target markup has likely changed structurally")
	if r.onCritical != nil {
		go r.onCritical()
	}
}

// Degraded reports whether the named strategy is cold.
func (r *HealthRegistry) Degraded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	return ok && rec.Degraded()
}

// AllDegraded reports whether every strategy is cold.
func (r *HealthRegistry) AllDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return false
	}
	for _, rec := range r.records {
		if !rec.Degraded() {
			return false
		}
	}
	return true
}

// Report returns a snapshot of all records, ordered by name.
func (r *HealthRegistry) Report() []StrategyHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StrategyHealth, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
