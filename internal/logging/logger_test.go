package logging

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestBuildDevelopment(t *testing.T) {
	logger := build(Options{Development: true})
	if logger == nil {
		t.Fatal("expected a logger")
	}
	logger.Debug("debug output enabled in development mode")
}

func TestBuildWithFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger := build(Options{FilePath: filepath.Join(dir, "monitor.log")})
	logger.Info("hello", zap.String("k", "v"))
	if err := logger.Sync(); err != nil {
		t.Logf("sync: %v", err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init(Options{Development: true})
	first := L
	Init(Options{Development: false})
	if L != first {
		t.Fatal("second Init replaced the global logger")
	}
}
