// Package session drives headless browser sessions with synthetic
// identities through circuit SOCKS proxies.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/extract"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/monitor"
	"github.com/bnowain/FB-Monitor/internal/stealth"
)

// Options configures one browser session.
type Options struct {
	// SocksAddr routes all traffic through the circuit when non-empty.
	SocksAddr string
	// ProfileDir enables a persistent profile (authenticated sessions).
	ProfileDir string
	Headless   bool
	NavTimeout time.Duration
}

// Session is one live browser with a fixed fingerprint. The fingerprint
// is drawn once and holds for the session's whole lifetime; rotating it
// mid-session is itself a bot signal.
type Session struct {
	fp     stealth.Fingerprint
	opts   Options
	rng    *rand.Rand
	ctx    context.Context
	cancel []context.CancelFunc

	html     string
	finalURL string
}

// New launches a browser session with a freshly generated fingerprint.
func New(ctx context.Context, cfg config.SessionConfig, opts Options, rng *rand.Rand) (*Session, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = cfg.NavTimeout
	}
	fp := stealth.Generate(rng)

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.ViewportWidth, fp.ViewportHeight),
	)
	if opts.Headless {
		execOpts = append(execOpts, chromedp.Flag("headless", "new"))
	} else {
		execOpts = append(execOpts, chromedp.Flag("headless", false))
	}
	if opts.SocksAddr != "" {
		execOpts = append(execOpts, chromedp.ProxyServer("socks5://"+opts.SocksAddr))
	}
	if opts.ProfileDir != "" {
		execOpts = append(execOpts, chromedp.UserDataDir(opts.ProfileDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		fp:     fp,
		opts:   opts,
		rng:    rng,
		ctx:    taskCtx,
		cancel: []context.CancelFunc{taskCancel, allocCancel},
	}
	if err := s.applyFingerprint(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// applyFingerprint injects the stealth script and pins the viewport
// before the first navigation.
func (s *Session) applyFingerprint() error {
	script := stealth.InitScript(s.fp)
	err := chromedp.Run(s.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		emulation.SetDeviceMetricsOverride(
			int64(s.fp.ViewportWidth), int64(s.fp.ViewportHeight), 1.0, false),
		emulation.SetTimezoneOverride(s.fp.Timezone),
	)
	if err != nil {
		return fmt.Errorf("apply fingerprint: %w", err)
	}
	return nil
}

// Fingerprint returns the session's identity bundle.
func (s *Session) Fingerprint() stealth.Fingerprint { return s.fp }

// HTML returns the last loaded page body.
func (s *Session) HTML() string { return s.html }

// URL returns the last final (post-redirect) URL.
func (s *Session) URL() string { return s.finalURL }

// Navigate loads a URL and classifies the result. A login wall is a
// first-class outcome, not an error; callers branch on it explicitly.
func (s *Session) Navigate(ctx context.Context, url string) monitor.NavResult {
	navCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavTimeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-navCtx.Done():
		}
	}()

	var html, finalURL string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(stealth.HumanDelay(s.rng, 800*time.Millisecond, 2500*time.Millisecond)),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return monitor.NavResult{
			Outcome: monitor.OutcomeUnreachable,
			Err:     fmt.Errorf("navigate %s: %w", url, err),
		}
	}

	s.html = html
	s.finalURL = finalURL
	if extract.IsLoginWall(html) {
		return monitor.NavResult{Outcome: monitor.OutcomeBlocked, HTML: html, FinalURL: finalURL}
	}
	return monitor.NavResult{Outcome: monitor.OutcomeOK, HTML: html, FinalURL: finalURL}
}

// Scroll performs a human-paced scroll pass to trigger lazy loading,
// then refreshes the captured page body.
func (s *Session) Scroll(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		px := stealth.ScrollStep(s.rng)
		err := chromedp.Run(s.ctx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px), nil),
			chromedp.Sleep(stealth.ScrollPause(s.rng)),
		)
		if err != nil {
			return fmt.Errorf("scroll step %d: %w", i, err)
		}
	}
	var html string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("capture after scroll: %w", err)
	}
	s.html = html
	return nil
}

// Close tears the browser down.
func (s *Session) Close() {
	for _, cancel := range s.cancel {
		cancel()
	}
}

// Prober implements the racing probe using short-lived sessions.
type Prober struct {
	Cfg config.SessionConfig
}

// Probe opens a minimal session through the given SOCKS endpoint,
// navigates, and classifies the page.
func (p *Prober) Probe(ctx context.Context, socksAddr, url string) monitor.NavResult {
	s, err := New(ctx, p.Cfg, Options{
		SocksAddr:  socksAddr,
		Headless:   true,
		NavTimeout: p.Cfg.NavTimeout,
	}, nil)
	if err != nil {
		return monitor.NavResult{
			Outcome: monitor.OutcomeUnreachable,
			Err:     fmt.Errorf("probe session: %w", err),
		}
	}
	defer s.Close()

	res := s.Navigate(ctx, url)
	logging.L.Debug("probe finished",
		zap.String("socks", socksAddr),
		zap.String("outcome", res.Outcome.String()))
	return res
}
