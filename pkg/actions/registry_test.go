package actions_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct{}

func (echoAction) ID() string          { return "echo" }
func (echoAction) Name() string        { return "Echo" }
func (echoAction) Description() string { return "Returns its input" }

func (echoAction) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"prefix"},
		"properties": map[string]any{
			"prefix": map[string]any{"type": "string", "minLength": 1},
		},
	}
}

func (echoAction) Invoke(_ context.Context, data json.RawMessage, actx actions.Context) (map[string]any, error) {
	var cfg struct {
		Prefix string `json:"prefix"`
	}

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, err
	}

	return map[string]any{"prefix": cfg.Prefix, "input": actx.Input}, nil
}

func TestRegistry_Resolve(t *testing.T) {
	registry := actions.NewRegistry(log.Discard())
	require.NoError(t, registry.Register(echoAction{}, "echo2"))

	handler, err := registry.Resolve("echo2")
	require.NoError(t, err)

	out, err := handler.Invoke(t.Context(), json.RawMessage(`{"prefix":"x"}`), actions.Context{
		Input: map[string]any{"a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "x", out["prefix"])

	_, err = registry.Resolve("missing")
	require.ErrorIs(t, err, actions.ErrUnknownNodeType)

	assert.Equal(t, []string{"echo", "echo2"}, registry.NodeTypes())
	assert.Len(t, registry.List(), 2)
}

func TestRegistry_ValidateNode(t *testing.T) {
	registry := actions.NewRegistry(log.Discard())
	require.NoError(t, registry.Register(echoAction{}))

	tests := []struct {
		name    string
		node    models.Node
		wantErr error
	}{
		{
			name: "valid",
			node: models.Node{ID: "n1", Type: "echo", Data: json.RawMessage(`{"prefix":"hi"}`)},
		},
		{
			name:    "missing required field",
			node:    models.Node{ID: "n1", Type: "echo"},
			wantErr: actions.ErrInvalidNodeData,
		},
		{
			name:    "wrong type",
			node:    models.Node{ID: "n1", Type: "echo", Data: json.RawMessage(`{"prefix":3}`)},
			wantErr: actions.ErrInvalidNodeData,
		},
		{
			name:    "unknown type",
			node:    models.Node{ID: "n1", Type: "fax"},
			wantErr: actions.ErrUnknownNodeType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateNode(tt.node)
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	err := registry.ValidateNodes([]models.Node{
		{ID: "a", Type: "echo", Data: json.RawMessage(`{"prefix":"ok"}`)},
		{ID: "b", Type: "echo", Data: json.RawMessage(`{}`)},
	})
	require.ErrorIs(t, err, actions.ErrInvalidNodeData)
	assert.Contains(t, err.Error(), "node b")
}

func TestHandlerFunc(t *testing.T) {
	var handler actions.Handler = actions.HandlerFunc(
		func(_ context.Context, _ json.RawMessage, actx actions.Context) (map[string]any, error) {
			return map[string]any{"node": actx.NodeID}, nil
		})

	out, err := handler.Invoke(t.Context(), nil, actions.Context{NodeID: "n9"})
	require.NoError(t, err)
	assert.Equal(t, "n9", out["node"])
}
