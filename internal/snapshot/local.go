// Package snapshot stores raw page artifacts (HTML, screenshots) so a
// monitoring run can be audited after the fact.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local writes snapshot objects under a root directory on disk.
type Local struct {
	Root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root: %w", err)
	}
	return &Local{Root: root}, nil
}

// PutObject writes data to root/path and returns a file:// URI.
func (l *Local) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	full := filepath.Join(l.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("failed to resolve snapshot path: %w", err)
	}
	return "file://" + abs, nil
}
