package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// FieldExtractor pulls structured fields out of loaded pages with
// layered DOM heuristics. Selectors here are best-effort: the target's
// markup is obfuscated and shifts without notice, so every accessor
// degrades to an empty value instead of failing.
type FieldExtractor struct {
	clock monitor.Clock
}

// NewFieldExtractor builds an extractor.
func NewFieldExtractor(clock monitor.Clock) *FieldExtractor {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &FieldExtractor{clock: clock}
}

// ExtractPosts finds post references on a feed page.
func (e *FieldExtractor) ExtractPosts(ctx context.Context, page monitor.Page) ([]monitor.PostRef, error) {
	input := NewPageInput(page.URL(), page.HTML())
	var out []monitor.PostRef
	seen := make(map[string]struct{})
	for _, strategy := range DOMStrategies() {
		refs, err := strategy.Run(ctx, input)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			if ref.ID == "" {
				continue
			}
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			out = append(out, ref)
		}
	}
	return out, nil
}

// ExtractComments pulls visible comments from a post permalink page.
// Several selector generations are tried; results from the first
// generation that matches are used.
func (e *FieldExtractor) ExtractComments(_ context.Context, page monitor.Page) ([]monitor.Comment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML()))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	selectors := []string{
		`div[aria-label^="Comment by"]`,
		`div[aria-label="Comment"]`,
		`ul div[role="article"]`,
		// mbasic markup: comments sit in divs with numeric ids under the
		// comment list container.
		`div[id^="comment_"]`,
	}
	var comments []monitor.Comment
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			c := commentFromNode(s)
			if c.Text != "" {
				comments = append(comments, c)
			}
		})
		if len(comments) > 0 {
			break
		}
	}
	return comments, nil
}

func commentFromNode(s *goquery.Selection) monitor.Comment {
	c := monitor.Comment{}
	if label, ok := s.Attr("aria-label"); ok {
		if name, found := strings.CutPrefix(label, "Comment by "); found {
			c.Author = strings.TrimSpace(name)
		}
	}
	if c.Author == "" {
		c.Author = strings.TrimSpace(s.Find("a strong, h3 a, a span").First().Text())
	}

	// The longest text block under the node is taken as the body;
	// author links and action rows are short by comparison.
	var body string
	s.Find("div, span").Each(func(_ int, t *goquery.Selection) {
		if t.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(t.Text())
		if len(text) > len(body) && text != c.Author {
			body = text
		}
	})
	c.Text = body

	if ts := s.Find("abbr").First(); ts.Length() > 0 {
		c.Timestamp = strings.TrimSpace(ts.Text())
	} else if link := s.Find(`a[href*="comment_id"]`).First(); link.Length() > 0 {
		c.Timestamp = strings.TrimSpace(link.Text())
	}

	c.Depth = commentDepth(s)
	c.IsReply = c.Depth > 0
	return c
}

// commentDepth counts enclosing comment containers to classify replies.
func commentDepth(s *goquery.Selection) int {
	depth := 0
	for parent := s.Parent(); parent.Length() > 0; parent = parent.Parent() {
		if label, ok := parent.Attr("aria-label"); ok && strings.HasPrefix(label, "Comment") {
			depth++
		}
		if id, ok := parent.Attr("id"); ok && strings.HasPrefix(id, "comment_") {
			depth++
		}
	}
	return depth
}

// ParsePost extracts the full content of a single post from its
// permalink page.
func (e *FieldExtractor) ParsePost(_ context.Context, page monitor.Page, url, id string) (monitor.PostData, error) {
	post := monitor.PostData{
		ID:        id,
		URL:       url,
		FetchedAt: e.clock.Now(),
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML()))
	if err != nil {
		return post, fmt.Errorf("parse page: %w", err)
	}

	article := doc.Find(`div[role="article"]`).First()
	if article.Length() == 0 {
		article = doc.Find("#m_story_permalink_view").First()
	}
	if article.Length() == 0 {
		article = doc.Selection
	}

	post.Author = strings.TrimSpace(article.Find("h2 a, h3 a, strong a").First().Text())
	post.Text = postBodyText(article)
	post.Timestamp = strings.TrimSpace(article.Find("abbr").First().Text())

	article.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.HasPrefix(href, "http") && !strings.Contains(href, "facebook.com") {
			post.Links = append(post.Links, href)
		}
	})
	article.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if strings.Contains(src, "scontent") {
			post.ImageURLs = append(post.ImageURLs, src)
		}
	})
	article.Find("video[src], a[href*='/videos/']").Each(func(_ int, v *goquery.Selection) {
		if src, ok := v.Attr("src"); ok {
			post.VideoURLs = append(post.VideoURLs, src)
		}
	})

	post.Engagement = engagementCounts(article)
	return post, nil
}

// postBodyText picks the densest text container inside the article,
// skipping the comment section.
func postBodyText(article *goquery.Selection) string {
	var best string
	article.Find(`div[data-ad-preview="message"], div[dir="auto"], p`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > len(best) {
			best = text
		}
	})
	return best
}

// engagementCounts scrapes visible reaction/comment/share totals.
// Counts render as "1.2K" style abbreviations; parse failures drop the
// entry rather than storing garbage.
func engagementCounts(article *goquery.Selection) map[string]int {
	out := map[string]int{}
	article.Find(`span[aria-label], a[aria-label]`).Each(func(_ int, s *goquery.Selection) {
		label, _ := s.Attr("aria-label")
		lower := strings.ToLower(label)
		for _, kind := range []string{"reaction", "comment", "share"} {
			if strings.Contains(lower, kind) {
				if n, ok := parseAbbrevCount(lower); ok {
					out[kind+"s"] = n
				}
			}
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseAbbrevCount(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	raw := strings.ReplaceAll(fields[0], ",", "")
	mult := 1.0
	switch {
	case strings.HasSuffix(raw, "k"):
		mult, raw = 1e3, strings.TrimSuffix(raw, "k")
	case strings.HasSuffix(raw, "m"):
		mult, raw = 1e6, strings.TrimSuffix(raw, "m")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int(f * mult), true
}

var _ monitor.Extractor = (*FieldExtractor)(nil)

// Age of the post relative to now, when the timestamp can be parsed
// from one of the absolute formats the permalink page serves.
func (e *FieldExtractor) Age(post monitor.PostData) (time.Duration, bool) {
	for _, layout := range []string{
		"January 2, 2006 at 3:04 PM",
		"January 2 at 3:04 PM",
		"2 January 2006 at 15:04",
	} {
		if ts, err := time.Parse(layout, post.Timestamp); err == nil {
			if ts.Year() == 0 {
				ts = ts.AddDate(e.clock.Now().Year(), 0, 0)
			}
			return e.clock.Now().Sub(ts), true
		}
	}
	return 0, false
}
