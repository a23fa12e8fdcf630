// Package webhook provides the node that calls an external HTTP endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

var (
	// ErrInvalidURL is returned when the rendered URL is not absolute http(s).
	ErrInvalidURL = errors.New("invalid webhook url")
	// ErrHTTPStatus is returned when the endpoint answers with a non-2xx status.
	ErrHTTPStatus = errors.New("webhook returned error status")
)

type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Timeout is a Go duration string
	Timeout string `json:"timeout,omitempty"`
}

// Node performs an outbound HTTP request.
type Node struct {
	client *http.Client
}

// New creates the webhook handler. A nil client uses a client with a 30s timeout.
func New(client *http.Client) *Node {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Node{client: client}
}

func (n *Node) ID() string {
	return models.NodeTypeWebhook
}

func (n *Node) Name() string {
	return "Webhook"
}

func (n *Node) Description() string {
	return "Sends an HTTP request. Templates in url, headers and body are rendered against the run."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"https://hooks.example.com/leads/{{.input.contact_id}}"},
			},
			"method": map[string]any{
				"type": "string",
				"enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body":    map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	}
}

// Invoke sends the request and returns status_code, body and headers.
func (n *Node) Invoke(ctx context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}

	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook timeout: %w", err)
		}

		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := n.buildRequest(ctx, cfg, actx)
	if err != nil {
		return nil, err
	}

	logger := actx.Log().With("module", "webhook_node")
	logger.DebugContext(ctx, "sending webhook", "method", req.Method, "url", req.URL.Redacted())

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return processResponse(ctx, resp, actx)
}

func (n *Node) buildRequest(ctx context.Context, cfg Config, actx actions.Context) (*http.Request, error) {
	scope := actx.Scope()

	rawURL, err := template.RenderString(cfg.URL, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader

	if cfg.Body != "" {
		rendered, err := template.RenderString(cfg.Body, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		body = strings.NewReader(rendered)
	} else if method != http.MethodGet && method != http.MethodDelete {
		payload, err := json.Marshal(actx.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		body = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("X-Automata-Run", actx.RunID)
	req.Header.Set("X-Automata-Workflow", actx.WorkflowID)

	for key, value := range cfg.Headers {
		rendered, err := template.RenderString(value, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func processResponse(ctx context.Context, resp *http.Response, actx actions.Context) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	actx.Log().DebugContext(ctx, "webhook completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
