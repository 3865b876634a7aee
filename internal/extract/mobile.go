package extract

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// MobileFetcher retrieves the basic-HTML mobile variant of a page. The
// mobile site serves server-rendered markup that survives script-heavy
// redesigns of the desktop site, which makes it a useful late fallback.
type MobileFetcher interface {
	FetchMobile(ctx context.Context, pageURL string) (string, error)
}

// CollyMobileFetcher fetches the mobile site with a static HTTP client
// through the caller-supplied proxy.
type CollyMobileFetcher struct {
	// Proxy returns the current SOCKS proxy URL (e.g.
	// "socks5://127.0.0.1:9150"), or "" for a direct connection.
	Proxy     func() string
	UserAgent string
	Timeout   time.Duration
}

// FetchMobile GETs the mbasic variant of pageURL and returns its body.
func (f *CollyMobileFetcher) FetchMobile(ctx context.Context, pageURL string) (string, error) {
	target, err := mobileVariant(pageURL)
	if err != nil {
		return "", err
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c.SetRequestTimeout(timeout)
	if f.Proxy != nil {
		if proxy := f.Proxy(); proxy != "" {
			if err := c.SetProxy(proxy); err != nil {
				return "", fmt.Errorf("set proxy: %w", err)
			}
		}
	}

	var (
		body     string
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(target) }()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("mobile fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("mobile visit %s: %w", target, err)
		}
	}
	if fetchErr != nil {
		return "", fmt.Errorf("mobile fetch %s: %w", target, fetchErr)
	}
	return body, nil
}

// mobileStrategy wraps a MobileFetcher as a chain strategy: fetch the
// mobile variant, then sweep it for post links.
func mobileStrategy(fetcher MobileFetcher) Strategy {
	return Strategy{
		Name: StrategyMobilePage,
		Run: func(ctx context.Context, page *PageInput) ([]monitor.PostRef, error) {
			html, err := fetcher.FetchMobile(ctx, page.URL)
			if err != nil {
				return nil, err
			}
			if IsLoginWall(html) {
				return nil, nil
			}
			return linkSweep(ctx, NewPageInput(page.URL, html))
		},
	}
}

func mobileVariant(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	u.Host = "mbasic.facebook.com"
	return u.String(), nil
}
