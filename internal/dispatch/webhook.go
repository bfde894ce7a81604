// Package dispatch delivers rendered digests and test messages to the
// configured webhook endpoint.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/time/rate"

	"whalewatch/internal/config"
	"whalewatch/internal/digest"
	"whalewatch/internal/domain"
)

// ErrDisabled is returned when dispatch is attempted with the webhook off
var ErrDisabled = errors.New("webhook dispatch is disabled")

type payload struct {
	Content string `json:"content"`
}

// Webhook posts plain-text digest messages. Sends are paced by min_interval.
// A failed digest is not retried inline; the failure is noted in the next
// scheduled digest instead.
type Webhook struct {
	log     logger.Logger
	cfg     config.WebhookConfig
	http    *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSent map[domain.Chain]time.Time // window end of the last delivered digest
	failed   bool                       // previous dispatch failed, noted in the next digest
}

func NewWebhook(log logger.Logger, cfg config.WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}

	return &Webhook{
		log:      log,
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		lastSent: make(map[domain.Chain]time.Time),
	}
}

// SendTest posts a startup message so a misconfigured endpoint surfaces
// immediately instead of at the first 20:00 digest.
func (w *Webhook) SendTest(ctx context.Context) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}
	return w.post(ctx, "🐋 whale-watch connected, digests will be delivered here")
}

// SendDigest renders and posts one chain digest. A window already delivered
// for the chain is skipped, which makes re-dispatch after a partial failure
// safe.
func (w *Webhook) SendDigest(ctx context.Context, d *domain.DigestWindow) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}

	w.mu.Lock()
	if last, ok := w.lastSent[d.Chain]; ok && !d.WindowEnd.After(last) {
		w.mu.Unlock()
		w.log.Infof("Digest for %s window ending %s already delivered, skipping", d.Chain, d.WindowEnd)
		return nil
	}
	wasFailed := w.failed
	w.mu.Unlock()

	text := digest.Render(d)
	if wasFailed {
		text += "⚠ previous dispatch failed, earlier events may not have been delivered\n"
	}

	if err := w.post(ctx, text); err != nil {
		w.mu.Lock()
		w.failed = true
		w.mu.Unlock()
		return fmt.Errorf("dispatch %s digest: %w", d.Chain, err)
	}

	w.mu.Lock()
	w.lastSent[d.Chain] = d.WindowEnd
	w.failed = false
	w.mu.Unlock()
	return nil
}

func (w *Webhook) post(ctx context.Context, text string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload{Content: text})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload, error=%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request, error=%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed, error=%w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
