package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the JSON side-file shared between runs: live tracking jobs
// plus the per-page registry of post IDs already processed. Unknown
// fields from newer versions are ignored and missing fields default,
// so older files keep loading after schema additions.
type State struct {
	Version   int                            `json:"version"`
	SavedAt   time.Time                      `json:"saved_at"`
	Jobs      []Job                          `json:"jobs"`
	SeenPosts map[string]map[string]struct{} `json:"-"`

	// SeenPostsRaw is the wire form of SeenPosts (a set serializes as a
	// list).
	SeenPostsRaw map[string][]string `json:"seen_posts"`
}

const stateVersion = 2

// StateFile loads and saves State with atomic writes.
type StateFile struct {
	mu   sync.Mutex
	path string
}

// NewStateFile creates a StateFile at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load reads the state file. A missing file yields an empty state, not
// an error.
func (f *StateFile) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := State{Version: stateVersion}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			st.SeenPosts = map[string]map[string]struct{}{}
			return st, nil
		}
		return State{}, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse state file %s: %w", f.path, err)
	}

	st.SeenPosts = make(map[string]map[string]struct{}, len(st.SeenPostsRaw))
	for page, ids := range st.SeenPostsRaw {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		st.SeenPosts[page] = set
	}
	st.SeenPostsRaw = nil
	st.Version = stateVersion
	return st, nil
}

// Save writes the state atomically (temp file + rename).
func (f *StateFile) Save(st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st.Version = stateVersion
	st.SavedAt = time.Now().UTC()
	st.SeenPostsRaw = make(map[string][]string, len(st.SeenPosts))
	for page, set := range st.SeenPosts {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		st.SeenPostsRaw[page] = ids
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Reset deletes the state file.
func (f *StateFile) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
