// Package actions defines the contract between the run executor and node handlers, and the
// registry that resolves a node type to its handler.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

// Output keys with meaning to the executor.
const (
	// BranchKey holds the label of the outgoing edge a condition node selects.
	BranchKey = "branch"
	// DelayKey holds the suspension requested by a delay node, in milliseconds.
	DelayKey = "delay_ms"
)

// Context is the run state visible to a handler invocation.
type Context struct {
	WorkflowID  string
	RunID       string
	NodeID      string
	NodeType    string
	Attempt     int
	TriggerType models.TriggerType
	Trigger     map[string]any
	// Input is the output of the predecessor that enqueued this node.
	Input  map[string]any
	Logger *slog.Logger
}

// Scope returns the template scope of the invocation.
func (c Context) Scope() template.Scope {
	return template.Scope{
		WorkflowID: c.WorkflowID,
		RunID:      c.RunID,
		NodeID:     c.NodeID,
		Trigger:    c.Trigger,
		Input:      c.Input,
	}
}

// Log returns the invocation logger, never nil.
func (c Context) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}

	return c.Logger
}

// Handler executes one node. data is the node's configuration.
type Handler interface {
	Invoke(ctx context.Context, data json.RawMessage, actx Context) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data json.RawMessage, actx Context) (map[string]any, error)

func (f HandlerFunc) Invoke(ctx context.Context, data json.RawMessage, actx Context) (map[string]any, error) {
	return f(ctx, data, actx)
}

// Action is a registrable handler with the metadata the editor needs.
type Action interface {
	Handler

	// ID returns the node type handled, e.g. "sendEmail"
	ID() string
	Name() string
	Description() string
	// Schema returns the JSON schema of the node data
	Schema() map[string]any
}

// Resolver maps a node type to its handler.
type Resolver interface {
	Resolve(nodeType string) (Handler, error)
}

// Decode unmarshals node data into cfg; empty data leaves cfg untouched.
func Decode(data json.RawMessage, cfg any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	return json.Unmarshal(data, cfg)
}

// DelayOf returns the suspension requested by a delay node output. Outputs read back from
// storage carry numbers as float64.
func DelayOf(out map[string]any) time.Duration {
	switch ms := out[DelayKey].(type) {
	case int64:
		return time.Duration(ms) * time.Millisecond
	case int:
		return time.Duration(ms) * time.Millisecond
	case float64:
		return time.Duration(ms) * time.Millisecond
	default:
		return 0
	}
}

// BranchOf returns the branch chosen by a condition node output.
func BranchOf(out map[string]any) string {
	switch branch := out[BranchKey].(type) {
	case string:
		return branch
	case nil:
		return ""
	default:
		return fmt.Sprint(branch)
	}
}
