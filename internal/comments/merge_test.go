package comments

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

func TestMergeIntoEmpty(t *testing.T) {
	c1 := monitor.Comment{Author: "Alice", Text: "first!"}
	merged, added := Merge(nil, []monitor.Comment{c1})
	require.Equal(t, 1, added)
	require.Equal(t, []monitor.Comment{c1}, merged)
}

func TestMergePrefersTimestampedVariant(t *testing.T) {
	c1 := monitor.Comment{Author: "Alice", Text: "great post"}
	c1Stamped := monitor.Comment{Author: "Alice", Text: "great post", Timestamp: "2025-06-01T10:00:00Z"}
	c2 := monitor.Comment{Author: "Bob", Text: "me too"}

	merged, added := Merge([]monitor.Comment{c1}, []monitor.Comment{c1Stamped, c2})
	require.Equal(t, 1, added, "only c2 is new")
	require.Len(t, merged, 2)
	require.Equal(t, c1Stamped.Timestamp, merged[0].Timestamp, "timestamped variant should win")
	require.Equal(t, c2, merged[1])
}

func TestMergeDoesNotDowngrade(t *testing.T) {
	stamped := monitor.Comment{Author: "Alice", Text: "hello", Timestamp: "2025-06-01T10:00:00Z"}
	bare := monitor.Comment{Author: "Alice", Text: "hello"}

	merged, added := Merge([]monitor.Comment{stamped}, []monitor.Comment{bare})
	require.Equal(t, 0, added)
	require.Equal(t, stamped.Timestamp, merged[0].Timestamp)
}

func TestKeyNormalization(t *testing.T) {
	a := monitor.Comment{Author: " Alice ", Text: "Hello   World"}
	b := monitor.Comment{Author: "alice", Text: "hello world"}
	require.Equal(t, Key(a), Key(b))
}

func TestKeyTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 400)
	a := monitor.Comment{Author: "a", Text: long + " tail one"}
	b := monitor.Comment{Author: "a", Text: long + " tail two"}
	require.Equal(t, Key(a), Key(b), "identity must stabilize on the text prefix")
}

func TestKeyTruncationKeepsRuneBoundary(t *testing.T) {
	// 2-byte runes straddling the prefix limit must not be cut in half.
	long := strings.Repeat("é", 200)
	k := Key(monitor.Comment{Author: "a", Text: long})
	require.True(t, utf8.ValidString(k), "key must stay valid UTF-8")

	// Variants differing only past the boundary still collide.
	k2 := Key(monitor.Comment{Author: "a", Text: long + " more"})
	require.Equal(t, k, k2)
}

func TestMergeIsIdempotent(t *testing.T) {
	fresh := []monitor.Comment{
		{Author: "Alice", Text: "one"},
		{Author: "Bob", Text: "two"},
	}
	merged, added := Merge(nil, fresh)
	require.Equal(t, 2, added)
	again, added := Merge(merged, fresh)
	require.Equal(t, 0, added)
	require.Equal(t, merged, again)
}
