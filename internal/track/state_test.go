package track

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewStateFile(path)

	st := State{
		Jobs: []Job{{PostID: "p1", URL: "u", Page: "page", Created: time.Now().UTC().Truncate(time.Second)}},
		SeenPosts: map[string]map[string]struct{}{
			"page": {"p1": {}, "p2": {}},
		},
	}
	require.NoError(t, f.Save(st))

	loaded, err := f.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Jobs, 1)
	require.Equal(t, "p1", loaded.Jobs[0].PostID)
	require.Contains(t, loaded.SeenPosts["page"], "p2")
}

func TestLoadMissingFileYieldsEmptyState(t *testing.T) {
	f := NewStateFile(filepath.Join(t.TempDir(), "absent.json"))
	st, err := f.Load()
	require.NoError(t, err)
	require.Empty(t, st.Jobs)
	require.NotNil(t, st.SeenPosts)
}

func TestLoadToleratesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// Version-1 file: no seen_posts key, unknown extra field.
	old := `{"version": 1, "jobs": [{"post_id": "p1", "url": "u", "created": "2025-05-01T00:00:00Z"}], "legacy_field": true}`
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	st, err := NewStateFile(path).Load()
	require.NoError(t, err)
	require.Len(t, st.Jobs, 1)
	require.NotNil(t, st.SeenPosts)
	require.Equal(t, stateVersion, st.Version)
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewStateFile(path)
	require.NoError(t, f.Save(State{SeenPosts: map[string]map[string]struct{}{}}))
	require.NoError(t, f.Reset())
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, f.Reset(), "resetting twice is fine")
}
