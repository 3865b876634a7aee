package contenthash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

func TestHashIgnoresVolatileFields(t *testing.T) {
	a := monitor.PostData{ID: "1", Author: "Alice", Text: "hello world", FetchedAt: time.Now()}
	b := a
	b.FetchedAt = time.Now().Add(time.Hour)
	b.Engagement = map[string]int{"likes": 42}
	assert.Equal(t, Post(a), Post(b))
}

func TestHashDetectsEdit(t *testing.T) {
	a := monitor.PostData{ID: "1", Text: "original"}
	b := monitor.PostData{ID: "1", Text: "edited"}
	assert.NotEqual(t, Post(a), Post(b))
}

func TestHashNormalizesWhitespace(t *testing.T) {
	a := monitor.PostData{Text: "hello   world\n"}
	b := monitor.PostData{Text: "hello world"}
	assert.Equal(t, Post(a), Post(b))
}

func TestHashLinkOrderIrrelevant(t *testing.T) {
	a := monitor.PostData{Links: []string{"https://a", "https://b"}}
	b := monitor.PostData{Links: []string{"https://b", "https://a"}}
	assert.Equal(t, Post(a), Post(b))
}

func TestHashFieldBoundaries(t *testing.T) {
	// Content shifting between fields must not collide.
	a := monitor.PostData{Author: "ab", Text: "c"}
	b := monitor.PostData{Author: "a", Text: "bc"}
	assert.NotEqual(t, Post(a), Post(b))
}
