// Package api exposes the HTTP status interface for the monitor.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/circuit"
	"github.com/bnowain/FB-Monitor/internal/extract"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/track"
)

// PoolStatus is the circuit-pool view the server reads.
type PoolStatus interface {
	Snapshots() []circuit.Snapshot
	Healthy() []circuit.Snapshot
}

// TrackStatus is the scheduler view the server reads.
type TrackStatus interface {
	Summary() map[string]int
	Jobs() []track.Job
}

// StrategyStatus is the extraction-health view the server reads.
type StrategyStatus interface {
	Report() []extract.StrategyHealth
}

// Server wires read-only status handlers over the live subsystems.
type Server struct {
	router     chi.Router
	pool       PoolStatus
	tracker    TrackStatus
	strategies StrategyStatus
	started    time.Time
}

// NewServer constructs a Server with middleware and routes. Any of the
// subsystem views may be nil; the handlers degrade to empty sections.
func NewServer(pool PoolStatus, tracker TrackStatus, strategies StrategyStatus) *Server {
	s := &Server{
		pool:       pool,
		tracker:    tracker,
		strategies: strategies,
		started:    time.Now(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/circuits", s.circuits)
		r.Get("/tracking", s.tracking)
		r.Get("/strategies", s.strategyHealth)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.pool != nil && len(s.pool.Healthy()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no healthy circuits"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.pool != nil {
		out["circuits_total"] = len(s.pool.Snapshots())
		out["circuits_healthy"] = len(s.pool.Healthy())
	}
	if s.tracker != nil {
		out["tracking"] = s.tracker.Summary()
	}
	if s.strategies != nil {
		report := s.strategies.Report()
		degraded := 0
		for _, h := range report {
			if h.Degraded() {
				degraded++
			}
		}
		out["strategies_degraded"] = degraded
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) circuits(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, []circuit.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Snapshots())
}

func (s *Server) tracking(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.tracker.Summary(),
		"jobs":    s.tracker.Jobs(),
	})
}

func (s *Server) strategyHealth(w http.ResponseWriter, _ *http.Request) {
	if s.strategies == nil {
		writeJSON(w, http.StatusOK, []extract.StrategyHealth{})
		return
	}
	writeJSON(w, http.StatusOK, s.strategies.Report())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		logging.L.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.L.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
