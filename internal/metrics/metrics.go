// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolInstances      *prometheus.GaugeVec
	poolRestartsTotal  prometheus.Counter
	probeResultsTotal  *prometheus.CounterVec
	racesTotal         *prometheus.CounterVec
	strategyRunsTotal  *prometheus.CounterVec
	strategyItemsTotal *prometheus.CounterVec
	rateWaitSeconds    *prometheus.HistogramVec
	rotationsTotal     prometheus.Counter
	cyclesTotal        *prometheus.CounterVec
	postsTotal         *prometheus.CounterVec
	commentsAddedTotal prometheus.Counter
	notificationsTotal *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDurationSecs   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly;
// the Observe helpers call it themselves so ordering never matters.
func Init() {
	once.Do(func() {
		poolInstances = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fbmon_pool_instances",
				Help: "Circuit pool instances by state.",
			},
			[]string{"state"},
		)

		poolRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fbmon_pool_restarts_total",
				Help: "Total circuit instance restarts performed by the monitor loop.",
			},
		)

		probeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_probe_results_total",
				Help: "Racing probe outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		racesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_races_total",
				Help: "Circuit races, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		strategyRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_strategy_runs_total",
				Help: "Extraction strategy runs, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		strategyItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_strategy_items_total",
				Help: "Items found per extraction strategy.",
			},
			[]string{"strategy"},
		)

		rateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fbmon_rate_wait_seconds",
				Help:    "Rate governor wait durations, labeled by identity class.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"class"},
		)

		rotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fbmon_rotations_total",
				Help: "Total circuit rotations requested.",
			},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_cycles_total",
				Help: "Monitoring cycles, labeled by result.",
			},
			[]string{"result"},
		)

		postsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_posts_discovered_total",
				Help: "New posts discovered, labeled by page.",
			},
			[]string{"page"},
		)

		commentsAddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fbmon_comments_added_total",
				Help: "New comments persisted across all tracked posts.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fbmon_notifications_total",
				Help: "Webhook notifications, labeled by channel and result.",
			},
			[]string{"channel", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests to the status server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Status server request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// SetPoolState sets the instance count for one pool state.
func SetPoolState(state string, n int) {
	Init()
	poolInstances.WithLabelValues(state).Set(float64(n))
}

// ObserveRestart counts one instance restart.
func ObserveRestart() {
	Init()
	poolRestartsTotal.Inc()
}

// ObserveProbe counts one racing probe outcome ("win", "blocked", "error").
func ObserveProbe(result string) {
	Init()
	probeResultsTotal.WithLabelValues(result).Inc()
}

// ObserveRace counts one race outcome ("winner", "no_winner", "skipped").
func ObserveRace(outcome string) {
	Init()
	racesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStrategy records one strategy run and its item count.
func ObserveStrategy(strategy string, found int) {
	Init()
	result := "hit"
	if found == 0 {
		result = "zero"
	}
	strategyRunsTotal.WithLabelValues(strategy, result).Inc()
	if found > 0 {
		strategyItemsTotal.WithLabelValues(strategy).Add(float64(found))
	}
}

// ObserveRateWait records one governor wait.
func ObserveRateWait(class string, d time.Duration) {
	Init()
	rateWaitSeconds.WithLabelValues(class).Observe(d.Seconds())
}

// ObserveRotation counts one circuit rotation request.
func ObserveRotation() {
	Init()
	rotationsTotal.Inc()
}

// ObserveCycle counts one monitoring cycle ("ok" or "error").
func ObserveCycle(result string) {
	Init()
	cyclesTotal.WithLabelValues(result).Inc()
}

// ObservePostDiscovered counts one newly discovered post.
func ObservePostDiscovered(page string) {
	Init()
	postsTotal.WithLabelValues(page).Inc()
}

// ObserveCommentsAdded counts newly persisted comments.
func ObserveCommentsAdded(n int) {
	Init()
	if n > 0 {
		commentsAddedTotal.Add(float64(n))
	}
}

// ObserveNotification counts one webhook delivery attempt.
func ObserveNotification(channel string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveHTTPRequest records one status-server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
