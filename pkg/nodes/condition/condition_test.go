package condition

import (
	"encoding/json"
	"testing"

	"github.com/dukex/automata/pkg/actions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoke(t *testing.T, config string, input map[string]any) (map[string]any, error) {
	t.Helper()

	return New().Invoke(t.Context(), json.RawMessage(config), actions.Context{
		NodeID:  "cond",
		Trigger: map[string]any{"source": "form", "tags": []any{"lead"}},
		Input:   input,
	})
}

func TestNode_Expression(t *testing.T) {
	tests := []struct {
		name   string
		config string
		input  map[string]any
		branch string
	}{
		{"true literal", `{"expression":"true"}`, nil, BranchTrue},
		{"false literal", `{"expression":"false"}`, nil, BranchFalse},
		{"comparison", `{"expression":"{{gt .input.score 50.0}}"}`, map[string]any{"score": 82.0}, BranchTrue},
		{"comparison false", `{"expression":"{{gt .input.score 50.0}}"}`, map[string]any{"score": 10.0}, BranchFalse},
		{"trigger data", `{"expression":"{{eq .trigger.source \"form\"}}"}`, nil, BranchTrue},
		{"non-empty string", `{"expression":"{{.input.email}}"}`, map[string]any{"email": "a@b.c"}, BranchTrue},
		{"zero number", `{"expression":"{{.input.count}}"}`, map[string]any{"count": 0.0}, BranchFalse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := invoke(t, tt.config, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.branch, out[actions.BranchKey])
		})
	}
}

func TestNode_Rule(t *testing.T) {
	input := map[string]any{
		"contact": map[string]any{
			"email":     "Ada@Example.com",
			"score":     72.0,
			"lifecycle": "lead",
			"tags":      []any{"vip", "newsletter"},
		},
	}

	tests := []struct {
		name   string
		config string
		branch string
	}{
		{"equals", `{"field":"contact.lifecycle","operator":"equals","value":"lead"}`, BranchTrue},
		{"equals number as string", `{"field":"contact.score","operator":"equals","value":"72"}`, BranchTrue},
		{"not equals", `{"field":"contact.lifecycle","operator":"not_equals","value":"customer"}`, BranchTrue},
		{"contains substring", `{"field":"contact.email","operator":"contains","value":"example"}`, BranchTrue},
		{"contains element", `{"field":"contact.tags","operator":"contains","value":"vip"}`, BranchTrue},
		{"greater than", `{"field":"contact.score","operator":"greater_than","value":50}`, BranchTrue},
		{"less than", `{"field":"contact.score","operator":"less_than","value":50}`, BranchFalse},
		{"exists", `{"field":"contact.email","operator":"exists"}`, BranchTrue},
		{"not exists", `{"field":"contact.phone","operator":"not_exists"}`, BranchTrue},
		{"missing field", `{"field":"contact.phone","operator":"equals","value":"1"}`, BranchFalse},
		{"trigger path", `{"field":"trigger.source","operator":"equals","value":"form"}`, BranchTrue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := invoke(t, tt.config, input)
			require.NoError(t, err)
			assert.Equal(t, tt.branch, out[actions.BranchKey])
		})
	}
}

func TestNode_Errors(t *testing.T) {
	_, err := invoke(t, `{}`, nil)
	require.ErrorIs(t, err, ErrMissingPredicate)

	_, err = invoke(t, `{"field":"a","operator":"matches"}`, map[string]any{"a": 1.0})
	require.ErrorIs(t, err, ErrUnknownOperator)

	_, err = invoke(t, `{"field":"a","operator":"greater_than","value":"x"}`, map[string]any{"a": 1.0})
	require.ErrorIs(t, err, ErrNotComparable)

	_, err = invoke(t, `{"expression":"{{.input"}`, nil)
	require.Error(t, err)

	_, err = invoke(t, `[1]`, nil)
	require.Error(t, err)
}
