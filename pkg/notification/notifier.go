package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"workbench/pkg/logger"
	"workbench/pkg/store/mysql/model"
)

// Store is the slice of the notification repository the notifier needs
type Store interface {
	Create(ctx context.Context, notif *model.Notification) error
	ExistsSince(ctx context.Context, userID, notifType string, since time.Time) (bool, error)
}

// UsageWarning describes a crossed usage threshold
type UsageWarning struct {
	UserID    string
	Threshold int    // crossed threshold percentage
	Percent   int    // actual usage percentage
	Usage     string // GB-hours consumed
	Limit     string // GB-hours included in the plan
}

// UsageNotifier records usage warnings and optionally pushes them to a chat
// webhook. Each user gets at most one warning per billing period regardless
// of how many reconciliation passes observe the crossed threshold.
type UsageNotifier struct {
	store      Store
	webhookURL string
	client     *http.Client
}

// NewUsageNotifier creates a usage notifier. An empty webhook URL disables
// the chat push; durable records are always written.
func NewUsageNotifier(store Store, webhookURL string) *UsageNotifier {
	if webhookURL == "" {
		logger.Warn("usage webhook URL not configured, chat notifications will be disabled")
	}
	return &UsageNotifier{
		store:      store,
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyUsageWarning records a warning unless one already exists since the
// period start. Returns whether a new warning was recorded.
func (n *UsageNotifier) NotifyUsageWarning(ctx context.Context, warning *UsageWarning, periodStart time.Time) (bool, error) {
	exists, err := n.store.ExistsSince(ctx, warning.UserID, model.NotificationUsageWarning, periodStart)
	if err != nil {
		return false, fmt.Errorf("failed to check existing warnings: %w", err)
	}
	if exists {
		return false, nil
	}

	err = n.store.Create(ctx, &model.Notification{
		UserID:    warning.UserID,
		Type:      model.NotificationUsageWarning,
		ActorType: "usage",
		ActorID:   strconv.Itoa(warning.Threshold),
		Target:    strconv.Itoa(warning.Percent),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to record usage warning: %w", err)
	}

	if err := n.sendWebhook(ctx, warning); err != nil {
		// The durable record is written; chat delivery is best effort
		logger.WarnCtx(ctx, "failed to push usage warning for user %s: %v", warning.UserID, err)
	}
	return true, nil
}

func (n *UsageNotifier) sendWebhook(ctx context.Context, warning *UsageWarning) error {
	if n.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(n.buildUsageMessage(warning))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

func (n *UsageNotifier) buildUsageMessage(warning *UsageWarning) map[string]interface{} {
	template := "orange"
	if warning.Threshold >= 100 {
		template = "red"
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": fmt.Sprintf("Usage at %d%% of plan", warning.Percent),
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**User**: %s\n**Usage**: %s of %s GB-hours", warning.UserID, warning.Usage, warning.Limit),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
