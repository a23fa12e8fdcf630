// Package collaborator implements the email, enrichment, scoring and inference providers over a
// JSON HTTP API.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/automata/pkg/nodes/ai"
	"github.com/dukex/automata/pkg/nodes/email"
	"github.com/dukex/automata/pkg/nodes/enrich"
	"github.com/dukex/automata/pkg/nodes/score"
)

const defaultTimeout = 30 * time.Second

var (
	ErrEmptyEndpoint = errors.New("collaborator endpoint is empty")
	ErrStatus        = errors.New("collaborator returned error status")
)

// Client posts JSON requests to a provider endpoint. Each capability has its own path under the
// endpoint: /send, /enrich, /score and /infer.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

// WithToken sets a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

func New(endpoint string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("module", "collaborator", "endpoint", endpoint),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) Send(ctx context.Context, msg email.Message) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}

	if err := c.post(ctx, "/send", msg, &resp); err != nil {
		return "", err
	}

	return resp.MessageID, nil
}

func (c *Client) Enrich(ctx context.Context, req enrich.Request) (map[string]any, error) {
	var resp map[string]any

	if err := c.post(ctx, "/enrich", req, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) Score(ctx context.Context, req score.Request) (score.Result, error) {
	var resp score.Result

	err := c.post(ctx, "/score", req, &resp)

	return resp, err
}

func (c *Client) Infer(ctx context.Context, req ai.Request) (ai.Result, error) {
	var resp ai.Result

	err := c.post(ctx, "/infer", req, &resp)

	return resp, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%w: %s %d %s", ErrStatus, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}

	c.logger.DebugContext(ctx, "collaborator call completed", "path", path, "status", resp.StatusCode)

	return nil
}

// LogSender logs messages instead of delivering them. It is used when no email endpoint is set.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, msg email.Message) (string, error) {
	id := fmt.Sprintf("log-%s-%s", msg.Metadata["run_id"], msg.Metadata["node_id"])

	s.logger.InfoContext(ctx, "email not delivered, no provider configured",
		"message_id", id, "to", msg.To, "subject", msg.Subject, "template_id", msg.TemplateID)

	return id, nil
}
