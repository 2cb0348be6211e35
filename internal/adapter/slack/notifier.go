// Package slack implements a notifier.Notifier delivering run
// notifications to a Slack incoming webhook as Block Kit messages.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/halcyonsec/OpForge/internal/port/notifier"
)

const providerName = "slack"

const sendTimeout = 10 * time.Second

// Notifier posts run notifications to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier for the given incoming webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

type message struct {
	Blocks []block `json:"blocks"`
}

type block struct {
	Type string `json:"type"`
	Text *text  `json:"text,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	msg := message{
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: levelTag(notification.Level) + " " + notification.Title}},
			{Type: "section", Text: &text{Type: "mrkdwn", Text: notification.Message}},
		},
	}
	if line := contextLine(notification); line != "" {
		msg.Blocks = append(msg.Blocks, block{
			Type: "context",
			Text: &text{Type: "mrkdwn", Text: line},
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// contextLine folds the event source and run metadata into one trailing
// context block, meta keys sorted for stable output.
func contextLine(n notifier.Notification) string {
	parts := make([]string, 0, len(n.Meta)+1)
	if n.Source != "" {
		parts = append(parts, "_"+n.Source+"_")
	}
	keys := make([]string, 0, len(n.Meta))
	for k := range n.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: `%s`", k, n.Meta[k]))
	}
	return strings.Join(parts, " | ")
}

func levelTag(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "warning":
		return "[WARN]"
	case "error":
		return "[FAIL]"
	default:
		return "[INFO]"
	}
}
