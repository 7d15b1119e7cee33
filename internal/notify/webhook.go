// Package notify tells operators about new incidents.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/clock"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/jsonw"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/metrics"
)

// Delivery outcomes recorded in blackbox_webhook_deliveries_total.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
	OutcomeRejected   = "rejected"
)

var ErrInvalidWebhookConfig = errors.New("invalid webhook config")

// WebhookConfig configures a Webhook. An empty URL disables delivery.
type WebhookConfig struct {
	URL            string
	Cooldown       time.Duration
	RequestTimeout time.Duration
	Username       string
}

// Validate rejects negative durations.
func (c WebhookConfig) Validate() error {
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be non-negative", ErrInvalidWebhookConfig)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must be non-negative", ErrInvalidWebhookConfig)
	}
	return nil
}

// Executor runs fn asynchronously. (*worker.Pool).Go satisfies it.
type Executor func(fn func()) error

// Webhook posts a one-line chat message per incident. Sends are spaced by
// Cooldown, measured from the last attempt rather than the last delivery.
type Webhook struct {
	clock     clock.Clock
	cfg       WebhookConfig
	transport Transport
	exec      Executor
	logger    zerolog.Logger

	mu         sync.Mutex
	lastSentAt time.Time
	attempted  bool
}

// NewWebhook validates cfg. A nil exec delivers on a new goroutine.
func NewWebhook(c clock.Clock, cfg WebhookConfig, transport Transport, exec Executor) (*Webhook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		transport = NewHTTPTransport(cfg.RequestTimeout)
	}
	if exec == nil {
		exec = func(fn func()) error {
			go fn()
			return nil
		}
	}
	return &Webhook{
		clock:     clock.OrReal(c),
		cfg:       cfg,
		transport: transport,
		exec:      exec,
		logger:    log.WithComponent("webhook"),
	}, nil
}

// OnIncident schedules delivery and returns without waiting for it.
func (w *Webhook) OnIncident(ctx context.Context, r incident.Report, bundlePath string) {
	if strings.TrimSpace(w.cfg.URL) == "" {
		return
	}
	logger := w.logger.With().
		Str(log.FieldIncidentID, string(r.Meta.ID)).
		Str(log.FieldBundlePath, bundlePath).
		Logger()

	if !w.shouldSend(w.clock.Now()) {
		metrics.IncWebhookDelivery(OutcomeSuppressed)
		logger.Debug().Str(log.FieldEvent, "webhook.suppressed").Msg("webhook cooldown active")
		return
	}

	endpoint, err := parseEndpoint(w.cfg.URL)
	if err != nil {
		metrics.IncWebhookDelivery(OutcomeRejected)
		logger.Warn().Err(err).Str(log.FieldEvent, "webhook.invalid_url").Msg("invalid webhook URL")
		return
	}

	payload, err := Payload(r, w.cfg.Username)
	if err != nil {
		metrics.IncWebhookDelivery(OutcomeRejected)
		logger.Warn().Err(err).Str(log.FieldEvent, "webhook.payload_failed").Msg("failed to build webhook payload")
		return
	}

	// Delivery outlives the capture that triggered it.
	deliverCtx := context.WithoutCancel(ctx)
	err = w.exec(func() {
		if err := w.transport.Post(deliverCtx, endpoint, payload); err != nil {
			metrics.IncWebhookDelivery(OutcomeFailed)
			logger.Warn().Err(err).Str(log.FieldEvent, "webhook.delivery_failed").Msg("webhook delivery failed")
			return
		}
		metrics.IncWebhookDelivery(OutcomeSent)
		logger.Debug().Str(log.FieldEvent, "webhook.delivered").Msg("webhook delivered")
	})
	if err != nil {
		metrics.IncWebhookDelivery(OutcomeRejected)
		logger.Warn().Err(err).Str(log.FieldEvent, "webhook.schedule_failed").Msg("failed to schedule webhook delivery")
	}
}

func (w *Webhook) shouldSend(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempted && now.Before(w.lastSentAt.Add(w.cfg.Cooldown)) {
		return false
	}
	w.attempted = true
	w.lastSentAt = now
	return true
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// Payload renders the webhook body:
//
//	{"content":"[SEVERITY] headline (scope: x)","username":"..."}
//
// username is omitted when blank and scope falls back to "unknown".
func Payload(r incident.Report, username string) ([]byte, error) {
	scope := r.Meta.Scope
	if scope == "" {
		scope = "unknown"
	}
	content := fmt.Sprintf("[%s] %s (scope: %s)", r.Meta.Severity, r.Meta.Headline, scope)

	var buf bytes.Buffer
	jw := jsonw.New(&buf)
	jw.BeginObject().Name("content").String(content)
	if strings.TrimSpace(username) != "" {
		jw.Name("username").String(username)
	}
	jw.EndObject()
	if err := jw.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
