// Package caldera implements the jobapi port against the CALDERA v2
// REST API. One job corresponds to one CALDERA operation.
package caldera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halcyonsec/OpForge/internal/domain/facts"
	"github.com/halcyonsec/OpForge/internal/port/jobapi"
	"github.com/halcyonsec/OpForge/internal/resilience"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 200 // bytes of remote response kept in errors
)

// Client talks to the CALDERA REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a CALDERA client. timeout bounds each request
// independently of any step-level polling budget; zero means 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Submit creates an operation from the job template and returns its ID.
func (c *Client) Submit(ctx context.Context, template map[string]any) (string, error) {
	body, err := json.Marshal(buildOperation(template))
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}

	resp, err := c.doRequest(ctx, "submit", http.MethodPost, "/api/v2/operations", body)
	if err != nil {
		return "", err
	}

	var op struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &op); err != nil {
		return "", &jobapi.TransportError{Op: "submit", Err: fmt.Errorf("unmarshal operation: %w", err)}
	}
	if op.ID == "" {
		return "", &jobapi.TransportError{Op: "submit", Err: fmt.Errorf("operation created without an id")}
	}
	return op.ID, nil
}

// Poll returns a single lifecycle snapshot of the operation.
func (c *Client) Poll(ctx context.Context, jobID string) (*jobapi.Job, error) {
	resp, err := c.doRequest(ctx, "poll", http.MethodGet, "/api/v2/operations/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var op struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(resp, &op); err != nil {
		return nil, &jobapi.TransportError{Op: "poll", Err: fmt.Errorf("unmarshal operation: %w", err)}
	}
	if op.ID == "" {
		op.ID = jobID
	}
	return &jobapi.Job{ID: op.ID, State: op.State}, nil
}

// Report returns the facts the operation discovered.
func (c *Client) Report(ctx context.Context, jobID string) ([]facts.Fact, error) {
	resp, err := c.doRequest(ctx, "report", http.MethodGet, "/api/v2/operations/"+jobID+"/report", nil)
	if err != nil {
		return nil, err
	}

	var report struct {
		Facts []facts.Fact `json:"facts"`
	}
	if err := json.Unmarshal(resp, &report); err != nil {
		return nil, &jobapi.TransportError{Op: "report", Err: fmt.Errorf("unmarshal report: %w", err)}
	}
	return report.Facts, nil
}

// Cancel asks CALDERA to finish the operation early.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	body := []byte(`{"state": "finished"}`)
	_, err := c.doRequest(ctx, "cancel", http.MethodPatch, "/api/v2/operations/"+jobID, body)
	return err
}

// buildOperation maps a generic job template to CALDERA's operation
// payload. The profile reference becomes the adversary ID; planner and
// autonomy get CALDERA's defaults when unset; unset optional fields are
// omitted entirely.
func buildOperation(template map[string]any) map[string]any {
	op := map[string]any{
		"adversary":  map[string]any{"adversary_id": template["profile"]},
		"planner":    map[string]any{"id": stringOr(template["planner"], "atomic")},
		"auto_close": false,
		"state":      "running",
		"autonomous": 1,
	}
	if v, ok := template["autonomous"]; ok {
		op["autonomous"] = v
	}
	if name, ok := template["name"].(string); ok && name != "" {
		op["name"] = name
	}
	if group, ok := template["group"].(string); ok && group != "" {
		op["group"] = group
	}
	if source, ok := template["source"].(string); ok && source != "" {
		op["source"] = map[string]any{"id": source}
	}
	if f, ok := template["facts"]; ok {
		op["facts"] = f
	}
	return op
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return &jobapi.TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("KEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &jobapi.TransportError{Op: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &jobapi.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
		}

		switch {
		case resp.StatusCode >= 500:
			return &jobapi.TransportError{
				Op:     op,
				Status: resp.StatusCode,
				Err:    fmt.Errorf("caldera: %s", truncate(data)),
			}
		case resp.StatusCode >= 400:
			return &jobapi.RejectedError{Op: op, Status: resp.StatusCode, Body: truncate(data)}
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if !jobapi.IsTransport(err) && !jobapi.IsRejected(err) {
				// Open-circuit errors count as transport faults.
				return nil, &jobapi.TransportError{Op: op, Err: err}
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
