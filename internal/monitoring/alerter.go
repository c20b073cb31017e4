// Package monitoring posts operational alerts to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBreakerOpen AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter sends alerts via webhook. An Alerter without a webhook URL drops
// every alert.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	nowFunc func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		nowFunc: time.Now,
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// BreakerOpened alerts that a handle's failure guard opened after failures
// consecutive reply generation failures.
func (a *Alerter) BreakerOpened(ctx context.Context, handle string, failures int, blockedUntil time.Time) error {
	if !a.Enabled() {
		return nil
	}
	now := a.nowFunc().UTC()
	return a.sendWebhook(ctx, Alert{
		Type:     AlertBreakerOpen,
		Severity: "high",
		Message: fmt.Sprintf(
			"Chat for %q paused after %d consecutive reply failures (until %s)",
			handle, failures, blockedUntil.UTC().Format(time.RFC3339),
		),
		Details: map[string]any{
			"handle":        handle,
			"failures":      failures,
			"blocked_until": blockedUntil.UTC(),
		},
		Timestamp: now,
	})
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
