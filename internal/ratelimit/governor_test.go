package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnowain/FB-Monitor/internal/metrics"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestGovernor(max int) (*Governor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g := New(Config{AnonymousPerHour: max, AuthenticatedPerHour: max}, clock)
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g, clock
}

func TestShouldWaitAtBudget(t *testing.T) {
	g, _ := newTestGovernor(10)
	for i := 0; i < 10; i++ {
		g.Record(ClassAnonymous)
	}
	if wait := g.ShouldWait(ClassAnonymous); wait <= 0 {
		t.Fatalf("expected positive wait at budget, got %v", wait)
	}
}

func TestWindowAgesOutWithoutReset(t *testing.T) {
	g, clock := newTestGovernor(10)
	for i := 0; i < 10; i++ {
		g.Record(ClassAnonymous)
	}
	clock.now = clock.now.Add(61 * time.Minute)
	if wait := g.ShouldWait(ClassAnonymous); wait != 0 {
		t.Fatalf("expected zero wait after window aged out, got %v", wait)
	}
	if n := g.Count(ClassAnonymous); n != 0 {
		t.Fatalf("expected empty window, got %d", n)
	}
}

func TestSoftThresholdPacing(t *testing.T) {
	g, _ := newTestGovernor(10)
	for i := 0; i < 9; i++ {
		g.Record(ClassAnonymous)
	}
	wait := g.ShouldWait(ClassAnonymous)
	if wait < 30*time.Second || wait > 90*time.Second {
		t.Fatalf("expected pacing wait in [30s, 90s], got %v", wait)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	g, _ := newTestGovernor(10)
	for i := 0; i < 10; i++ {
		g.Record(ClassAnonymous)
	}
	if wait := g.ShouldWait(ClassAuthenticated); wait != 0 {
		t.Fatalf("authenticated class should be unaffected, got wait %v", wait)
	}
}

func TestWaitIfNeededPrefersRotation(t *testing.T) {
	g, _ := newTestGovernor(5)
	for i := 0; i < 5; i++ {
		g.Record(ClassAnonymous)
	}
	rotated := false
	err := g.WaitIfNeeded(context.Background(), ClassAnonymous, func(context.Context) error {
		rotated = true
		return nil
	})
	if err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation to be invoked for a long wait")
	}
	if n := g.Count(ClassAnonymous); n != 0 {
		t.Fatalf("successful rotation should reset the window, got %d", n)
	}
}

func TestWaitIfNeededFallsBackToSleepOnRotationFailure(t *testing.T) {
	g, _ := newTestGovernor(5)
	for i := 0; i < 5; i++ {
		g.Record(ClassAnonymous)
	}
	slept := time.Duration(0)
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	err := g.WaitIfNeeded(context.Background(), ClassAnonymous, func(context.Context) error {
		return errors.New("no circuits available")
	})
	if err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	if slept <= 0 {
		t.Fatal("expected a sleep after failed rotation")
	}
	if n := g.Count(ClassAnonymous); n != 5 {
		t.Fatalf("failed rotation must not reset the window, got %d", n)
	}
}

func TestWaitIsRecordedInMetrics(t *testing.T) {
	g, _ := newTestGovernor(5)
	for i := 0; i < 5; i++ {
		g.Record(ClassAuthenticated)
	}
	if err := g.WaitIfNeeded(context.Background(), ClassAuthenticated, nil); err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `fbmon_rate_wait_seconds_count{class="authenticated"}`) {
		t.Fatal("governor pause did not record a wait observation")
	}
}

func TestWaitIfNeededWithoutRotationSleeps(t *testing.T) {
	g, _ := newTestGovernor(5)
	for i := 0; i < 5; i++ {
		g.Record(ClassAuthenticated)
	}
	slept := time.Duration(0)
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	if err := g.WaitIfNeeded(context.Background(), ClassAuthenticated, nil); err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	if slept <= 0 {
		t.Fatal("expected a sleep when no rotation is available")
	}
}
