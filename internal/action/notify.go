package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-agent/internal/model"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

// Notifier delivers notify actions. Channels with a configured webhook
// URL are delivered over HTTP; everything else goes to the log sink.
type Notifier struct {
	webhooks map[string]string
	client   *http.Client
	log      *zap.Logger
}

// NewNotifier creates a notifier with the configured webhook channels.
func NewNotifier(webhooks map[string]string, log *zap.Logger) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: webhookTimeout},
		log:      log,
	}
}

// notificationPayload is the JSON body posted to webhook channels.
type notificationPayload struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	UID      uint32 `json:"uid"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Priority string `json:"priority"`
}

// Notify delivers one notification. Log-channel delivery cannot fail;
// webhook failures are returned so the dispatcher can record them, but
// they never block subsequent actions.
func (n *Notifier) Notify(
	ctx context.Context,
	channel, text string,
	msg model.Message,
	analysis model.Analysis,
) error {
	url, ok := n.webhooks[channel]
	if !ok {
		n.log.Info("notification",
			zap.String("channel", channel),
			zap.String("text", text),
			zap.String("from", msg.From),
			zap.String("subject", msg.Subject),
			zap.String("priority", analysis.Priority.String()),
		)
		return nil
	}

	payload := notificationPayload{
		Channel:  channel,
		Text:     text,
		UID:      msg.UID,
		From:     msg.From,
		Subject:  msg.Subject,
		Category: string(analysis.Category),
		Priority: analysis.Priority.String(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to channel %q: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("channel %q webhook returned %d", channel, resp.StatusCode)
	}

	return nil
}
