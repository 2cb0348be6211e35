// Package discord implements a notifier.Notifier delivering run
// notifications to a Discord webhook as embeds.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/halcyonsec/OpForge/internal/port/notifier"
)

const providerName = "discord"

const sendTimeout = 10 * time.Second

// Notifier posts run notifications to a Discord webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier for the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Threads: true}
}

type webhookBody struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *footer      `json:"footer,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	e := embed{
		Title:       notification.Title,
		Description: notification.Message,
		Color:       levelColor(notification.Level),
		Fields:      metaFields(notification.Meta),
	}
	if notification.Source != "" {
		e.Footer = &footer{Text: notification.Source}
	}

	body, err := json.Marshal(webhookBody{Embeds: []embed{e}})
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success.
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// metaFields turns the run metadata into inline embed fields, keys
// sorted for stable output.
func metaFields(meta map[string]string) []embedField {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]embedField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, embedField{Name: k, Value: meta[k], Inline: true})
	}
	return fields
}

// levelColor maps notification levels to Discord embed colors.
func levelColor(level string) int {
	switch level {
	case "success":
		return 0x2ECC71 // green
	case "warning":
		return 0xF39C12 // orange
	case "error":
		return 0xE74C3C // red
	default:
		return 0x3498DB // blue
	}
}
