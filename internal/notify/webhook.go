// Package notify delivers human-facing alerts for new posts and
// degraded-session conditions.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
)

const ntfyBase = "https://ntfy.sh/"

// Webhook posts alerts to a Discord webhook and/or an ntfy topic,
// capped by a rate limiter so a burst of new posts cannot flood the
// channels.
type Webhook struct {
	discordURL string
	ntfyURL    string
	client     *http.Client
	limiter    *rate.Limiter
}

// New builds a notifier from config. With no endpoints configured every
// Notify is a cheap no-op.
func New(cfg config.NotifyConfig) *Webhook {
	perMinute := cfg.MaxPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	var ntfyURL string
	if cfg.NtfyTopic != "" {
		ntfyURL = ntfyBase + cfg.NtfyTopic
	}
	return &Webhook{
		discordURL: cfg.DiscordWebhook,
		ntfyURL:    ntfyURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perMinute/60.0), 3),
	}
}

// Notify delivers one alert to every configured endpoint. Endpoint
// failures are logged and folded into a single error so one dead
// webhook does not hide the other channel.
func (w *Webhook) Notify(ctx context.Context, title, body string) error {
	if w.discordURL == "" && w.ntfyURL == "" {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate wait: %w", err)
	}

	var errs []string
	if w.discordURL != "" {
		err := w.sendDiscord(ctx, title, body)
		metrics.ObserveNotification("discord", err)
		if err != nil {
			logging.L.Warn("discord notification failed", zap.Error(err))
			errs = append(errs, err.Error())
		}
	}
	if w.ntfyURL != "" {
		err := w.sendNtfy(ctx, title, body)
		metrics.ObserveNotification("ntfy", err)
		if err != nil {
			logging.L.Warn("ntfy notification failed", zap.Error(err))
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (w *Webhook) sendDiscord(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, body),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.discordURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return w.do(req, "discord")
}

func (w *Webhook) sendNtfy(ctx context.Context, title, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.ntfyURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ntfy request: %w", err)
	}
	req.Header.Set("Title", title)
	return w.do(req, "ntfy")
}

func (w *Webhook) do(req *http.Request, channel string) error {
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}
