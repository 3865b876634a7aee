package extract

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// PageInput is the loaded page handed to each strategy. The goquery
// document is parsed once and shared.
type PageInput struct {
	URL  string
	HTML string

	docOnce sync.Once
	doc     *goquery.Document
	docErr  error
}

// NewPageInput wraps a loaded page.
func NewPageInput(url, html string) *PageInput {
	return &PageInput{URL: url, HTML: html}
}

// Doc lazily parses the page HTML.
func (p *PageInput) Doc() (*goquery.Document, error) {
	p.docOnce.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	})
	return p.doc, p.docErr
}

// Strategy is one independent extraction technique. Strategies are
// ordered from most-structured to most-brittle; each runs defensively
// and may return an empty set.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, page *PageInput) ([]monitor.PostRef, error)
}

// Strategy names, in chain order.
const (
	StrategyAriaArticles     = "aria_articles"
	StrategyTimestampAnchors = "timestamp_anchors"
	StrategyLinkSweep        = "link_sweep"
	StrategyMobilePage       = "mobile_page"
	StrategyRawHTML          = "raw_html"
)

// DOMStrategies returns the strategies that run against the already
// loaded page. The mobile-page strategy needs its own fetch and is
// appended by the chain constructor.
func DOMStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyAriaArticles, Run: ariaArticles},
		{Name: StrategyTimestampAnchors, Run: timestampAnchors},
		{Name: StrategyLinkSweep, Run: linkSweep},
		{Name: StrategyRawHTML, Run: rawHTMLSweep},
	}
}

// ariaArticles walks semantic-role article containers. Highest precision:
// the container scopes both the post link and its preview text.
func ariaArticles(_ context.Context, page *PageInput) ([]monitor.PostRef, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}
	var refs []monitor.PostRef
	doc.Find(`div[role="article"], [role="article"]`).Each(func(_ int, article *goquery.Selection) {
		article.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			id := PostID(href)
			if id == "" {
				return true
			}
			refs = append(refs, monitor.PostRef{
				URL:     CanonicalPostURL(href),
				ID:      id,
				Preview: previewText(article.Text()),
			})
			return false
		})
	})
	return refs, nil
}

// timestampAnchors finds the permalink anchors that wrap a post's
// timestamp. Survives container-markup churn as long as timestamps stay
// linked.
func timestampAnchors(_ context.Context, page *PageInput) ([]monitor.PostRef, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}
	var refs []monitor.PostRef
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		id := PostID(href)
		if id == "" {
			return
		}
		label, _ := a.Attr("aria-label")
		text := strings.TrimSpace(a.Text())
		if !looksLikeTimestamp(label) && !looksLikeTimestamp(text) {
			return
		}
		refs = append(refs, monitor.PostRef{
			URL: CanonicalPostURL(href),
			ID:  id,
		})
	})
	return refs, nil
}

// linkSweep collects every anchor referencing a post, with no context
// requirements at all.
func linkSweep(_ context.Context, page *PageInput) ([]monitor.PostRef, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}
	var refs []monitor.PostRef
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if id := PostID(href); id != "" {
			refs = append(refs, monitor.PostRef{URL: CanonicalPostURL(href), ID: id})
		}
	})
	return refs, nil
}

var hrefAttrPattern = regexp.MustCompile(`href="([^"]+)"`)

// rawHTMLSweep regexes the raw markup for post hrefs. Slowest and most
// brittle, but works even when the DOM fails to parse as a tree.
func rawHTMLSweep(_ context.Context, page *PageInput) ([]monitor.PostRef, error) {
	var refs []monitor.PostRef
	for _, m := range hrefAttrPattern.FindAllStringSubmatch(page.HTML, -1) {
		href := strings.ReplaceAll(m[1], "&amp;", "&")
		if id := PostID(href); id != "" {
			refs = append(refs, monitor.PostRef{URL: CanonicalPostURL(href), ID: id})
		}
	}
	return refs, nil
}

var timestampHints = []string{
	"min", "hr", "hour", "yesterday", "am", "pm",
	"january", "february", "march", "april", "may", "june", "july",
	"august", "september", "october", "november", "december",
}

func looksLikeTimestamp(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 60 {
		return false
	}
	for _, hint := range timestampHints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

func previewText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
