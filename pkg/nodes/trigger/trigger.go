// Package trigger provides the handler of the workflow entry node.
package trigger

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
)

// Node passes the trigger payload to its successors.
type Node struct{}

// New creates the trigger node handler.
func New() *Node {
	return &Node{}
}

func (n *Node) ID() string {
	return models.NodeTypeTrigger
}

func (n *Node) Name() string {
	return "Trigger"
}

func (n *Node) Description() string {
	return "Entry point of a workflow. Emits the data the run was triggered with."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"label": map[string]any{"type": "string"},
		},
	}
}

// Invoke never fails; the output is a copy of the trigger data.
func (n *Node) Invoke(_ context.Context, _ json.RawMessage, actx actions.Context) (map[string]any, error) {
	out := make(map[string]any, len(actx.Trigger)+1)
	maps.Copy(out, actx.Trigger)

	if _, ok := out["trigger_type"]; !ok && actx.TriggerType != "" {
		out["trigger_type"] = string(actx.TriggerType)
	}

	return out, nil
}
