// Package email provides the sendEmail node, also registered as the generic "action" node.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

var (
	ErrInvalidRecipient = errors.New("invalid email recipient")
	ErrNoSender         = errors.New("email sender not configured")
)

// Message is a rendered email.
type Message struct {
	To         string            `json:"to"`
	From       string            `json:"from,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	ContactID  string            `json:"contact_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sender delivers messages and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type Config struct {
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	ContactID  string `json:"contact_id,omitempty"`
}

type Node struct {
	nodeType string
	sender   Sender
}

// New creates a handler registered under nodeType.
func New(nodeType string, sender Sender) *Node {
	return &Node{nodeType: nodeType, sender: sender}
}

func (n *Node) ID() string {
	return n.nodeType
}

func (n *Node) Name() string {
	if n.nodeType == models.NodeTypeAction {
		return "Action"
	}

	return "Send Email"
}

func (n *Node) Description() string {
	return "Sends an email to a contact through the configured email provider."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":     "string",
				"examples": []string{"{{.trigger.email}}"},
			},
			"from":        map[string]any{"type": "string"},
			"subject":     map[string]any{"type": "string"},
			"body":        map[string]any{"type": "string"},
			"template_id": map[string]any{"type": "string"},
			"contact_id":  map[string]any{"type": "string"},
		},
		"required": []any{"to"},
		"anyOf": []any{
			map[string]any{"required": []any{"subject"}},
			map[string]any{"required": []any{"template_id"}},
		},
	}
}

func (n *Node) Invoke(ctx context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	if n.sender == nil {
		return nil, ErrNoSender
	}

	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}

	msg, err := render(cfg, actx)
	if err != nil {
		return nil, err
	}

	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	return map[string]any{
		"message_id": id,
		"to":         msg.To,
		"subject":    msg.Subject,
	}, nil
}

func render(cfg Config, actx actions.Context) (Message, error) {
	scope := actx.Scope()

	var renderErr error

	renderField := func(name, in string) string {
		if renderErr != nil {
			return ""
		}

		out, err := template.RenderString(in, scope)
		if err != nil {
			renderErr = fmt.Errorf("failed to render %s template: %w", name, err)
		}

		return out
	}

	msg := Message{
		To:         renderField("to", cfg.To),
		From:       renderField("from", cfg.From),
		Subject:    renderField("subject", cfg.Subject),
		Body:       renderField("body", cfg.Body),
		TemplateID: cfg.TemplateID,
		ContactID:  renderField("contact_id", cfg.ContactID),
		Metadata: map[string]string{
			"workflow_id": actx.WorkflowID,
			"run_id":      actx.RunID,
			"node_id":     actx.NodeID,
		},
	}

	if renderErr != nil {
		return Message{}, renderErr
	}

	if _, err := mail.ParseAddress(msg.To); err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.To)
	}

	return msg, nil
}
