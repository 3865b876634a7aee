package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecordsEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id1, err := m.Publish(ctx, "new-posts", map[string]string{"post": "p1"})
	require.NoError(t, err)
	id2, err := m.Publish(ctx, "new-posts", map[string]string{"post": "p2"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	events := m.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "new-posts", events[0].Topic)
}
