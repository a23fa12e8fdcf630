package models

import "encoding/json"

// Built-in node types.
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeCondition = "condition"
	NodeTypeDelay     = "delay"
	NodeTypeAction    = "action"
	NodeTypeSendEmail = "sendEmail"
	NodeTypeWebhook   = "webhook"
	NodeTypeEnrich    = "enrich"
	NodeTypeScore     = "score"
	NodeTypeAI        = "ai"
)

// Node is one unit of work in a workflow graph. Data holds the node-type specific
// configuration and is decoded by the action handler registered for Type.
type Node struct {
	ID        string          `json:"id"                   validate:"required"`
	Type      string          `json:"type"                 validate:"required"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	PositionX float64         `json:"position_x,omitempty"`
	PositionY float64         `json:"position_y,omitempty"`
}

// IsTrigger reports whether the node is the graph entry point.
func (n Node) IsTrigger() bool {
	return n.Type == NodeTypeTrigger
}

// IsActionClass reports whether the node performs side effects and is therefore subject
// to the retry policy. Trigger, condition and delay nodes never retry.
func (n Node) IsActionClass() bool {
	switch n.Type {
	case NodeTypeTrigger, NodeTypeCondition, NodeTypeDelay:
		return false
	default:
		return true
	}
}

// Edge is a directed connection: completing Source may enqueue Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"          validate:"required"`
	Target string `json:"target"          validate:"required"`
	Label  string `json:"label,omitempty"`
}
