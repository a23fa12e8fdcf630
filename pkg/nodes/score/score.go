// Package score provides the lead scoring node.
package score

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

var ErrNoScorer = errors.New("scoring provider not configured")

type Request struct {
	ContactID  string         `json:"contact_id,omitempty"`
	Model      string         `json:"model,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

type Result struct {
	Score float64 `json:"score"`
	Grade string  `json:"grade,omitempty"`
}

// Scorer computes a lead score.
type Scorer interface {
	Score(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	ContactID string `json:"contact_id,omitempty"`
	Model     string `json:"model,omitempty"`
	// Threshold marks the output as qualified when the score reaches it.
	Threshold *float64 `json:"threshold,omitempty"`
}

type Node struct {
	scorer Scorer
}

func New(scorer Scorer) *Node {
	return &Node{scorer: scorer}
}

func (n *Node) ID() string          { return models.NodeTypeScore }
func (n *Node) Name() string        { return "Score" }
func (n *Node) Description() string { return "Scores the contact with the configured scoring model." }

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contact_id": map[string]any{"type": "string"},
			"model":      map[string]any{"type": "string"},
			"threshold":  map[string]any{"type": "number"},
		},
	}
}

// Invoke scores the node input. The output keeps the input attributes so a following condition
// can branch on both.
func (n *Node) Invoke(ctx context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	if n.scorer == nil {
		return nil, ErrNoScorer
	}

	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid score config: %w", err)
	}

	contactID, err := template.RenderString(cfg.ContactID, actx.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to render contact_id template: %w", err)
	}

	if contactID == "" {
		contactID, _ = actx.Input["contact_id"].(string)
	}

	result, err := n.scorer.Score(ctx, Request{
		ContactID:  contactID,
		Model:      cfg.Model,
		Attributes: actx.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	out := make(map[string]any, len(actx.Input)+3)
	maps.Copy(out, actx.Input)
	out["score"] = result.Score
	out["grade"] = result.Grade

	if cfg.Threshold != nil {
		out["qualified"] = result.Score >= *cfg.Threshold
	}

	return out, nil
}
