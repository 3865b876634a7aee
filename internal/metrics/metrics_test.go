package metrics

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestObserveHelpersDoNotPanicBeforeInit(t *testing.T) {
	// Each helper lazily initializes the collectors.
	SetPoolState("ready", 2)
	ObserveRestart()
	ObserveProbe("win")
	ObserveRace("winner")
	ObserveStrategy("link_sweep", 3)
	ObserveStrategy("aria_articles", 0)
	ObserveRateWait("anonymous", 30*time.Second)
	ObserveRotation()
	ObserveCycle("ok")
	ObservePostDiscovered("example")
	ObserveCommentsAdded(5)
	ObserveCommentsAdded(0)
	ObserveNotification("discord", nil)
	ObserveHTTPRequest("GET", "/status", 200, 10*time.Millisecond)
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveCycle("ok")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty metrics body")
	}
}
