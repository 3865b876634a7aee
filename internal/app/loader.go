package app

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/circuit"
	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/monitor"
	"github.com/bnowain/FB-Monitor/internal/session"
)

// loader routes page loads through the right identity: anonymous loads
// go through the circuit racer, account loads through a persistent
// authenticated browser session.
type loader struct {
	cfg   config.SessionConfig
	racer *circuit.Racer

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newLoader(cfg config.SessionConfig, racer *circuit.Racer) *loader {
	return &loader{cfg: cfg, racer: racer, sessions: make(map[string]*session.Session)}
}

// Load fetches a page. Anonymous results come from whichever circuit won
// the race; authenticated results come from the account's session.
func (l *loader) Load(ctx context.Context, account, url string) monitor.NavResult {
	if account == "" {
		res, err := l.racer.Fetch(ctx, url)
		if err != nil {
			return monitor.NavResult{Outcome: monitor.OutcomeUnreachable, Err: err}
		}
		return monitor.NavResult{
			Outcome:  monitor.OutcomeOK,
			HTML:     res.HTML,
			FinalURL: res.FinalURL,
		}
	}

	s, err := l.session(ctx, account)
	if err != nil {
		return monitor.NavResult{Outcome: monitor.OutcomeUnreachable, Err: err}
	}
	res := s.Navigate(ctx, url)
	if res.Outcome == monitor.OutcomeOK {
		// A short scroll pass surfaces lazily loaded posts and comments.
		if err := s.Scroll(ctx, 3); err != nil {
			logging.L.Debug("scroll failed", zap.String("account", account), zap.Error(err))
		} else {
			res.HTML = s.HTML()
		}
	}
	return res
}

// session returns the account's live session, creating it on first use.
// A session that hit a block wall is torn down so the next load starts
// fresh with a new fingerprint.
func (l *loader) session(ctx context.Context, account string) (*session.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[account]; ok {
		return s, nil
	}
	s, err := session.New(ctx, l.cfg, session.Options{
		ProfileDir: filepath.Join(l.cfg.ProfileDir, account),
		Headless:   l.cfg.Headless,
	}, nil)
	if err != nil {
		return nil, err
	}
	l.sessions[account] = s
	logging.L.Info("authenticated session opened", zap.String("account", account))
	return s, nil
}

// Drop closes and forgets an account session.
func (l *loader) Drop(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[account]; ok {
		s.Close()
		delete(l.sessions, account)
	}
}

// Close tears down all live sessions.
func (l *loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for account, s := range l.sessions {
		s.Close()
		delete(l.sessions, account)
	}
}
