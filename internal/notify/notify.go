package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/vigil/internal/monitor"
	"github.com/wonny/vigil/pkg/httputil"
	"github.com/wonny/vigil/pkg/logger"
)

// Notifier delivers alerts and admin escalations. The engine hands
// over immutable records; delivery policy lives entirely here.
type Notifier interface {
	DispatchAlert(ctx context.Context, alert monitor.Alert) error
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// =============================================================================
// Log notifier
// =============================================================================

// LogNotifier writes notifications to the structured log. It is the
// fallback when no webhook is configured and the in_app channel sink.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.WithComponent("notify")}
}

func (n *LogNotifier) DispatchAlert(_ context.Context, alert monitor.Alert) error {
	n.log.WithFields(map[string]interface{}{
		"metric":    alert.Metric,
		"value":     alert.Value,
		"threshold": alert.Threshold,
		"channels":  alert.Channels,
	}).Warn("risk alert")
	return nil
}

func (n *LogNotifier) NotifyAdmin(_ context.Context, subject, body string) error {
	n.log.WithFields(map[string]interface{}{
		"subject": subject,
		"body":    body,
	}).Error("admin notification")
	return nil
}

// =============================================================================
// Webhook notifier
// =============================================================================

// WebhookNotifier posts JSON payloads to a single webhook endpoint.
// The shared HTTP client carries the retry and rate limit policy, so a
// burst of alerts cannot flood the receiving channel.
type WebhookNotifier struct {
	client *httputil.Client
	url    string
	log    *logger.Logger
}

func NewWebhookNotifier(client *httputil.Client, url string, log *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client: client,
		url:    url,
		log:    log.WithComponent("notify"),
	}
}

type webhookPayload struct {
	Kind      string    `json:"kind"` // alert | admin
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	Metric    string    `json:"metric,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Channels  []string  `json:"channels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *WebhookNotifier) DispatchAlert(ctx context.Context, alert monitor.Alert) error {
	return n.post(ctx, webhookPayload{
		Kind:      "alert",
		Metric:    alert.Metric,
		Value:     alert.Value,
		Threshold: alert.Threshold,
		Channels:  alert.Channels,
		Timestamp: alert.Timestamp,
	})
}

func (n *WebhookNotifier) NotifyAdmin(ctx context.Context, subject, body string) error {
	return n.post(ctx, webhookPayload{
		Kind:      "admin",
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now(),
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	resp, err := n.client.PostJSON(ctx, n.url, payload)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// Fanout
// =============================================================================

// Fanout delivers to several notifiers and reports the first failure
// after trying all of them.
type Fanout struct {
	targets []Notifier
}

func NewFanout(targets ...Notifier) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) DispatchAlert(ctx context.Context, alert monitor.Alert) error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.DispatchAlert(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Fanout) NotifyAdmin(ctx context.Context, subject, body string) error {
	var firstErr error
	for _, t := range f.targets {
		if err := t.NotifyAdmin(ctx, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
