package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutObject(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	uri, err := l.PutObject(context.Background(), "acme/2025-06-01/page.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(root, "acme", "2025-06-01", "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
}

func TestNoopReturnsEmptyURI(t *testing.T) {
	uri, err := Noop{}.PutObject(context.Background(), "x", "text/html", []byte("y"))
	require.NoError(t, err)
	assert.Empty(t, uri)
}
