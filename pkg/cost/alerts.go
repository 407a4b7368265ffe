package cost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/kadirpekel/tonetuner/pkg/httpclient"
)

// AlertSink delivers cost alerts.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert) error
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(ctx context.Context, alert Alert) error

func (f AlertSinkFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// LogSink writes alerts to the default slog logger at WARN.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, a Alert) error {
	slog.WarnContext(ctx, a.Title(),
		"kind", a.Kind,
		"current", fmt.Sprintf("$%.2f", a.Current),
		"limit", fmt.Sprintf("$%.2f", a.Limit),
		"period", a.Period,
		"user", a.UserID)
	return nil
}

// DesktopSink shows alerts as desktop notifications.
type DesktopSink struct {
	AppName string

	notify func(title, message string) error
}

// NewDesktopSink creates a DesktopSink.
func NewDesktopSink() *DesktopSink {
	return &DesktopSink{AppName: "ToneTuner", notify: beeepNotify}
}

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (s *DesktopSink) Notify(_ context.Context, a Alert) error {
	notify := s.notify
	if notify == nil {
		notify = beeepNotify
	}
	title := s.AppName + ": " + a.Title()
	body := fmt.Sprintf("Current cost: $%.2f / limit: $%.2f", a.Current, a.Limit)
	if err := notify(title, body); err != nil {
		return fmt.Errorf("desktop notification failed: %w", err)
	}
	return nil
}

// WebhookSink POSTs alerts as JSON to a URL.
type WebhookSink struct {
	url    string
	client *httpclient.Client
	policy httpclient.RetryPolicy
}

// NewWebhookSink creates a WebhookSink. Delivery is retried twice on
// network errors and retryable statuses.
func NewWebhookSink(url string, opts ...httpclient.Option) *WebhookSink {
	opts = append([]httpclient.Option{httpclient.WithTimeout(10 * time.Second)}, opts...)
	return &WebhookSink{
		url:    url,
		client: httpclient.New(opts...),
		policy: httpclient.RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Multiplier: 2,
		},
	}
}

func (s *WebhookSink) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	_, err = httpclient.Retry(ctx, s.policy, webhookRetryable, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}

func webhookRetryable(err error) (bool, time.Duration) {
	if se, ok := httpclient.AsStatusError(err); ok {
		return se.IsRetryable(), se.RetryAfter
	}
	if errors.Is(err, context.Canceled) {
		return false, 0
	}
	return true, 0
}

// MultiSink fans an alert out to every sink and joins their errors.
type MultiSink []AlertSink

func (m MultiSink) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
