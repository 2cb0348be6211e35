// Package webhook implements a notifier.Notifier posting JSON to a
// configurable HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halcyonsec/OpForge/internal/port/notifier"
)

const providerName = "webhook"

const sendTimeout = 10 * time.Second

// Notifier delivers notifications as JSON POSTs to a webhook URL.
type Notifier struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewNotifier creates a webhook notifier for the given URL. Extra
// headers are added to every request, e.g. an Authorization token for
// the receiving side.
func NewNotifier(url string, headers map[string]string) *Notifier {
	return &Notifier{
		url:        url,
		headers:    headers,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// payload is the JSON body posted to the webhook endpoint.
type payload struct {
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     string            `json:"level"`
	Source    string            `json:"source,omitempty"`
	Timestamp string            `json:"timestamp"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.url == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(payload{
		Title:     notification.Title,
		Message:   notification.Message,
		Level:     notification.Level,
		Source:    notification.Source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Meta:      notification.Meta,
	})
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook endpoint %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
