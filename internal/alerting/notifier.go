package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies administrative events.
type EventType string

const (
	// EventNegativeMargin: a supplier net rate exceeded the reference price.
	EventNegativeMargin EventType = "negative_margin"
	// EventPriceAlert: a reference price moved past the alert threshold.
	EventPriceAlert EventType = "price_alert"
	// EventTest is sent by the simulate-alert command.
	EventTest EventType = "test"
)

// Event 封装告警上下文。
type Event struct {
	Type    EventType
	Time    time.Time
	Subject string
	Fields  map[string]string
}

// SortedKeys returns the field names in stable order for rendering.
func (e Event) SortedKeys() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("event", string(event.Type)).
		Str("subject", event.Subject).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(event Event) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Rate Shadow %s]\n", event.Type))
	if event.Subject != "" {
		builder.WriteString(event.Subject + "\n")
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", event.Time.UTC().Format(time.RFC3339)))
	for _, k := range event.SortedKeys() {
		builder.WriteString(fmt.Sprintf("%s: %s\n", k, event.Fields[k]))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
