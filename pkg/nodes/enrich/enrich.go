// Package enrich provides the node that augments contact data through an enrichment provider.
package enrich

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

var (
	ErrNoEnricher  = errors.New("enrichment provider not configured")
	ErrMissingKeys = errors.New("enrich requires an email, domain or contact id")
)

// Request identifies what to enrich. At least one key is set.
type Request struct {
	ContactID string   `json:"contact_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	Domain    string   `json:"domain,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

// Enricher looks up additional attributes.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (map[string]any, error)
}

type Config struct {
	ContactID string   `json:"contact_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	Domain    string   `json:"domain,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	// Merge copies the input into the output before the enriched attributes.
	Merge bool `json:"merge,omitempty"`
}

type Node struct {
	enricher Enricher
}

func New(enricher Enricher) *Node {
	return &Node{enricher: enricher}
}

func (n *Node) ID() string          { return models.NodeTypeEnrich }
func (n *Node) Name() string        { return "Enrich" }
func (n *Node) Description() string { return "Adds firmographic and contact data from the enrichment provider." }

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contact_id": map[string]any{"type": "string"},
			"email":      map[string]any{"type": "string", "examples": []string{"{{.input.email}}"}},
			"domain":     map[string]any{"type": "string"},
			"fields": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"merge": map[string]any{"type": "boolean"},
		},
	}
}

func (n *Node) Invoke(ctx context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	if n.enricher == nil {
		return nil, ErrNoEnricher
	}

	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid enrich config: %w", err)
	}

	req, err := buildRequest(cfg, actx)
	if err != nil {
		return nil, err
	}

	attrs, err := n.enricher.Enrich(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}

	out := make(map[string]any)
	if cfg.Merge {
		maps.Copy(out, actx.Input)
	}

	out["enriched"] = attrs

	return out, nil
}

func buildRequest(cfg Config, actx actions.Context) (Request, error) {
	scope := actx.Scope()
	req := Request{Fields: cfg.Fields}

	for _, f := range []struct {
		in  string
		out *string
	}{
		{cfg.ContactID, &req.ContactID},
		{cfg.Email, &req.Email},
		{cfg.Domain, &req.Domain},
	} {
		rendered, err := template.RenderString(f.in, scope)
		if err != nil {
			return Request{}, fmt.Errorf("failed to render enrich template: %w", err)
		}

		*f.out = rendered
	}

	// fall back to the conventional input keys
	if req.ContactID == "" && req.Email == "" && req.Domain == "" {
		req.ContactID, _ = actx.Input["contact_id"].(string)
		req.Email, _ = actx.Input["email"].(string)
	}

	if req.ContactID == "" && req.Email == "" && req.Domain == "" {
		return Request{}, ErrMissingKeys
	}

	return req, nil
}
