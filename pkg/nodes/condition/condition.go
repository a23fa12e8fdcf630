// Package condition provides the branching node. A condition evaluates against the output of the
// node that enqueued it and reports the branch to follow as "true" or "false".
package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/template"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Operators of a field rule.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

var (
	ErrMissingPredicate = errors.New("condition requires an expression or a field rule")
	ErrUnknownOperator  = errors.New("unknown condition operator")
	ErrNotComparable    = errors.New("values are not comparable")
)

// Config is either a template expression or a field rule.
type Config struct {
	Expression string `json:"expression,omitempty"`
	Field      string `json:"field,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
}

// Node evaluates a predicate.
type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) ID() string {
	return models.NodeTypeCondition
}

func (n *Node) Name() string {
	return "Condition"
}

func (n *Node) Description() string {
	return "Evaluates a predicate and follows the outgoing edge labelled true or false."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template evaluated against the run scope. Non-empty, non-zero results are truthy.",
				"examples": []string{
					`{{gt .input.score 50.0}}`,
					`{{eq .trigger.event "contact.created"}}`,
				},
			},
			"field": map[string]any{
				"type":        "string",
				"description": "Dotted path into the input, or trigger.<path> for trigger data",
			},
			"operator": map[string]any{
				"type": "string",
				"enum": []any{OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpExists, OpNotExists},
			},
			"value": map[string]any{},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"expression"}},
			map[string]any{"required": []any{"field", "operator"}},
		},
	}
}

// Invoke evaluates the predicate. The output carries the chosen branch under actions.BranchKey.
func (n *Node) Invoke(_ context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid condition config: %w", err)
	}

	var (
		result    bool
		evaluated any
		err       error
	)

	switch {
	case cfg.Expression != "":
		evaluated, err = template.RenderWithScope(cfg.Expression, actx.Scope())
		if err != nil {
			return nil, fmt.Errorf("condition evaluation failed: %w", err)
		}

		result = truthy(evaluated)
	case cfg.Field != "":
		evaluated, result, err = evaluateRule(cfg, actx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrMissingPredicate
	}

	branch := BranchFalse
	if result {
		branch = BranchTrue
	}

	return map[string]any{
		actions.BranchKey:  branch,
		"condition_result": result,
		"evaluated_value":  evaluated,
	}, nil
}

// truthy converts a rendered value to a boolean.
func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0.0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

func evaluateRule(cfg Config, actx actions.Context) (any, bool, error) {
	actual, found := lookup(cfg.Field, actx)

	switch cfg.Operator {
	case OpExists:
		return actual, found, nil
	case OpNotExists:
		return actual, !found, nil
	case OpEquals:
		return actual, found && equal(actual, cfg.Value), nil
	case OpNotEquals:
		return actual, !found || !equal(actual, cfg.Value), nil
	case OpContains:
		return actual, found && contains(actual, cfg.Value), nil
	case OpGreaterThan, OpLessThan:
		if !found {
			return nil, false, nil
		}

		a, aok := toFloat(actual)
		b, bok := toFloat(cfg.Value)

		if !aok || !bok {
			return actual, false, fmt.Errorf("%w: %s %v %v", ErrNotComparable, cfg.Operator, actual, cfg.Value)
		}

		if cfg.Operator == OpGreaterThan {
			return actual, a > b, nil
		}

		return actual, a < b, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownOperator, cfg.Operator)
	}
}

// lookup resolves a dotted path in the input. Paths starting with "trigger." read trigger data.
func lookup(path string, actx actions.Context) (any, bool) {
	var current any = actx.Input

	if rest, ok := strings.CutPrefix(path, "trigger."); ok {
		current = actx.Trigger
		path = rest
	}

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}

	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)

		return ok && strings.Contains(strings.ToLower(h), strings.ToLower(s))
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false
		}

		_, found := h[s]

		return found
	}

	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
