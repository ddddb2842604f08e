package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Webhook payload flavours.
const (
	WebhookSlack   = "slack"
	WebhookDiscord = "discord"
	WebhookGeneric = "generic"
)

// WebhookNotifier posts events to a Slack, Discord or generic JSON webhook.
type WebhookNotifier struct {
	url    string
	kind   string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier builds a webhook channel. An empty kind is inferred from the URL.
func NewWebhookNotifier(url, kind string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		kind:   detectWebhookType(url, kind),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

func detectWebhookType(url, kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" {
		return kind
	}
	switch {
	case strings.Contains(url, "slack.com"):
		return WebhookSlack
	case strings.Contains(url, "discord.com"):
		return WebhookDiscord
	default:
		return WebhookGeneric
	}
}

// Notify sends the event in the configured payload format.
func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	var payload any
	switch w.kind {
	case WebhookSlack:
		payload = slackPayload(event)
	case WebhookDiscord:
		payload = discordPayload(event)
	default:
		payload = genericPayload(event)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Info().Str("event", string(event.Type)).Str("type", w.kind).Msg("webhook alert sent")
	return nil
}

func slackPayload(event Event) map[string]any {
	emoji := ":information_source:"
	if event.Type == EventNegativeMargin {
		emoji = ":rotating_light:"
	}

	fields := make([]map[string]string, 0, len(event.Fields))
	for _, k := range event.SortedKeys() {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", k, event.Fields[k])})
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]string{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s", emoji, event.Subject),
			},
		},
	}
	// slack caps a section at 10 fields
	for len(fields) > 0 {
		n := min(len(fields), 10)
		blocks = append(blocks, map[string]any{"type": "section", "fields": fields[:n]})
		fields = fields[n:]
	}
	return map[string]any{"text": event.Subject, "blocks": blocks}
}

func discordPayload(event Event) map[string]any {
	color := 3447003 // blue
	if event.Type == EventNegativeMargin {
		color = 16711680 // red
	}

	fields := make([]map[string]any, 0, len(event.Fields))
	for _, k := range event.SortedKeys() {
		fields = append(fields, map[string]any{"name": k, "value": event.Fields[k], "inline": true})
	}

	return map[string]any{
		"embeds": []map[string]any{
			{
				"title":     event.Subject,
				"color":     color,
				"fields":    fields,
				"timestamp": event.Time.UTC().Format(time.RFC3339),
			},
		},
	}
}

func genericPayload(event Event) map[string]any {
	return map[string]any{
		"alert_type": string(event.Type),
		"subject":    event.Subject,
		"timestamp":  event.Time.UTC().Format(time.RFC3339),
		"fields":     event.Fields,
	}
}

var _ Notifier = (*WebhookNotifier)(nil)
