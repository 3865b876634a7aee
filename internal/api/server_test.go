package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnowain/FB-Monitor/internal/circuit"
	"github.com/bnowain/FB-Monitor/internal/extract"
	"github.com/bnowain/FB-Monitor/internal/track"
)

type fakePool struct {
	all     []circuit.Snapshot
	healthy []circuit.Snapshot
}

func (f *fakePool) Snapshots() []circuit.Snapshot { return f.all }
func (f *fakePool) Healthy() []circuit.Snapshot   { return f.healthy }

type fakeTracker struct{}

func (fakeTracker) Summary() map[string]int { return map[string]int{"active": 2, "daily": 1} }
func (fakeTracker) Jobs() []track.Job       { return []track.Job{{PostID: "p1"}} }

type fakeStrategies struct{ report []extract.StrategyHealth }

func (f fakeStrategies) Report() []extract.StrategyHealth { return f.report }

func testServer() *Server {
	pool := &fakePool{
		all: []circuit.Snapshot{
			{Index: 0, SocksPort: 9150, State: circuit.StateReady},
			{Index: 1, SocksPort: 9151, State: circuit.StateStalled},
		},
		healthy: []circuit.Snapshot{{Index: 0, SocksPort: 9150, State: circuit.StateReady}},
	}
	return NewServer(pool, fakeTracker{}, fakeStrategies{
		report: []extract.StrategyHealth{
			{Name: "aria_articles", ConsecutiveZeros: 7},
			{Name: "link_sweep"},
		},
	})
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	rec, body := get(t, testServer(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzNeedsHealthyCircuit(t *testing.T) {
	srv := NewServer(&fakePool{}, nil, nil)
	rec, _ := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = get(t, testServer(), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusAggregates(t *testing.T) {
	rec, body := get(t, testServer(), "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["circuits_total"])
	assert.EqualValues(t, 1, body["circuits_healthy"])
	assert.EqualValues(t, 1, body["strategies_degraded"])
}

func TestCircuitsListsSnapshots(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/circuits", nil)
	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []circuit.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, 9150, snaps[0].SocksPort)
}

func TestTracking(t *testing.T) {
	rec, body := get(t, testServer(), "/v1/tracking")
	require.Equal(t, http.StatusOK, rec.Code)
	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, summary["active"])
}

func TestNilSubsystemsDegrade(t *testing.T) {
	srv := NewServer(nil, nil, nil)
	rec, _ := get(t, srv, "/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = get(t, srv, "/v1/circuits")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
