package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// webhook secret is configured.
const SignatureHeader = "X-Webhook-Signature"

// DeliveryError reports a non-2xx webhook response.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
}

// WebhookNotifier POSTs each task as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookNotifier creates a notifier with a per-request timeout.
func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the hex-encoded HMAC-SHA256 of data keyed with secret.
func Sign(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// LogNotifier writes alerts to the log. It is the notifier when no webhook
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, t Task) error {
	n.logger.Warn("flood alert",
		"severity", t.Severity,
		"region", t.Region,
		"basin", t.Basin,
		"prediction_id", t.PredictionID,
		"risk_score", t.RiskScore,
		"peak_depth_m", t.PeakDepthM,
	)
	return nil
}

// LogDeadLetter records undeliverable tasks as error log lines.
type LogDeadLetter struct {
	logger *slog.Logger
}

// NewLogDeadLetter creates a LogDeadLetter.
func NewLogDeadLetter(logger *slog.Logger) *LogDeadLetter {
	return &LogDeadLetter{logger: logger}
}

func (d *LogDeadLetter) DeadLetter(_ context.Context, t Task, cause error) error {
	d.logger.Error("alert dead-lettered",
		"task_id", t.ID,
		"prediction_id", t.PredictionID,
		"severity", t.Severity,
		"error", cause,
	)
	return nil
}
