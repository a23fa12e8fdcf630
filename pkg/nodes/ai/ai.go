// Package ai provides the node that calls an AI inference provider.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

var (
	ErrNoInferencer = errors.New("inference provider not configured")
	ErrEmptyPrompt  = errors.New("ai prompt rendered empty")
)

type Request struct {
	Model       string   `json:"model,omitempty"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type Result struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Inferencer completes a prompt.
type Inferencer interface {
	Infer(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	Model       string   `json:"model,omitempty"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	// JSON decodes the completion into the output "data" key.
	JSON bool `json:"json,omitempty"`
}

type Node struct {
	inferencer Inferencer
}

func New(inferencer Inferencer) *Node {
	return &Node{inferencer: inferencer}
}

func (n *Node) ID() string          { return models.NodeTypeAI }
func (n *Node) Name() string        { return "AI" }
func (n *Node) Description() string { return "Generates text from a prompt rendered against the run." }

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model":       map[string]any{"type": "string"},
			"system":      map[string]any{"type": "string"},
			"prompt":      map[string]any{"type": "string", "minLength": 1},
			"max_tokens":  map[string]any{"type": "integer", "minimum": 1},
			"temperature": map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"json":        map[string]any{"type": "boolean"},
		},
		"required": []any{"prompt"},
	}
}

func (n *Node) Invoke(ctx context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	if n.inferencer == nil {
		return nil, ErrNoInferencer
	}

	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid ai config: %w", err)
	}

	prompt, err := template.RenderString(cfg.Prompt, actx.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt template: %w", err)
	}

	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	result, err := n.inferencer.Infer(ctx, Request{
		Model:       cfg.Model,
		System:      cfg.System,
		Prompt:      prompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	out := map[string]any{
		"text":  result.Text,
		"model": result.Model,
		"usage": map[string]any{
			"input_tokens":  result.InputTokens,
			"output_tokens": result.OutputTokens,
		},
	}

	if cfg.JSON {
		var decoded any
		if err := json.Unmarshal([]byte(result.Text), &decoded); err != nil {
			return nil, fmt.Errorf("completion is not valid json: %w", err)
		}

		out["data"] = decoded
	}

	return out, nil
}
