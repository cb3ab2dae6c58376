// Package notify pushes critical controller events to an operator channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
)

// Notifier delivers operator-facing alerts. A nil *SlackNotifier is a valid
// no-op implementation.
type Notifier interface {
	Notify(ctx context.Context, title, detail string) error
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier returns nil when webhookURL is empty, which disables
// notifications without callers having to check configuration.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{webhookURL: webhookURL}
}

// Notify posts one alert. Delivery failure is logged, never fatal: alerting
// must not take down the loop it reports on.
func (n *SlackNotifier) Notify(ctx context.Context, title, detail string) error {
	if n == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", title, detail),
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		slog.Error("Slack notification failed", "title", title, "error", err)
		return fmt.Errorf("posting slack webhook: %w", err)
	}
	return nil
}
