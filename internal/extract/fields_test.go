package extract

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPage struct {
	html string
	url  string
}

func (p staticPage) HTML() string { return p.html }
func (p staticPage) URL() string  { return p.url }

const permalinkHTML = `<html><body>
<div role="article">
  <h2><a href="/acme">Acme Widgets</a></h2>
  <div dir="auto">Announcing our new widget line, available today in three sizes.</div>
  <abbr>June 1, 2025</abbr>
  <a href="https://acme.example/widgets">catalog</a>
  <img src="https://scontent.example/photo1.jpg">
  <span aria-label="1.2K reactions"></span>
  <div aria-label="Comment by Alice">
    <a><strong>Alice</strong></a>
    <div>Love the medium size, ordered two.</div>
    <abbr>2h</abbr>
  </div>
  <div aria-label="Comment by Bob">
    <a><strong>Bob</strong></a>
    <div>Is shipping available overseas?</div>
  </div>
</div>
</body></html>`

func TestParsePostFields(t *testing.T) {
	e := NewFieldExtractor(nil)
	page := staticPage{html: permalinkHTML, url: "https://facebook.com/acme/posts/123"}

	post, err := e.ParsePost(context.Background(), page, page.url, "123")
	require.NoError(t, err)

	assert.Equal(t, "123", post.ID)
	assert.Equal(t, "Acme Widgets", post.Author)
	assert.Contains(t, post.Text, "new widget line")
	assert.Contains(t, post.Links, "https://acme.example/widgets")
	assert.Contains(t, post.ImageURLs, "https://scontent.example/photo1.jpg")
	assert.Equal(t, 1200, post.Engagement["reactions"])
	assert.False(t, post.FetchedAt.IsZero())
}

func TestExtractComments(t *testing.T) {
	e := NewFieldExtractor(nil)
	page := staticPage{html: permalinkHTML, url: "u"}

	cs, err := e.ExtractComments(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "Alice", cs[0].Author)
	assert.Contains(t, cs[0].Text, "medium size")
	assert.Equal(t, "2h", cs[0].Timestamp)
	assert.Equal(t, "Bob", cs[1].Author)
}

func TestExtractCommentsEmptyPage(t *testing.T) {
	e := NewFieldExtractor(nil)
	cs, err := e.ExtractComments(context.Background(), staticPage{html: "<html></html>"})
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestParseAbbrevCount(t *testing.T) {
	cases := map[string]int{
		"1.2k reactions": 1200,
		"3m shares":      3000000,
		"47 comments":    47,
	}
	for in, want := range cases {
		got, ok := parseAbbrevCount(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseAbbrevCount("view reactions")
	assert.False(t, ok)
}

func TestPreviewTextKeepsRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 150)
	got := previewText(long)
	require.True(t, utf8.ValidString(got), "preview must stay valid UTF-8")
	require.LessOrEqual(t, len(got), 200)

	short := "  spaced   out  "
	assert.Equal(t, "spaced out", previewText(short))
}
