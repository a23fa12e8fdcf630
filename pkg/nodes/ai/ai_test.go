package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dukex/automata/pkg/actions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inferencerFunc func(ctx context.Context, req Request) (Result, error)

func (f inferencerFunc) Infer(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

func TestNode_Invoke(t *testing.T) {
	var got Request

	node := New(inferencerFunc(func(_ context.Context, req Request) (Result, error) {
		got = req

		return Result{Text: `{"intent":"demo"}`, Model: "small", InputTokens: 12, OutputTokens: 5}, nil
	}))

	out, err := node.Invoke(t.Context(),
		json.RawMessage(`{"prompt":"Classify: {{.input.message}}","model":"small","json":true}`),
		actions.Context{Input: map[string]any{"message": "I want a demo"}})
	require.NoError(t, err)

	assert.Equal(t, "Classify: I want a demo", got.Prompt)
	assert.Equal(t, map[string]any{"intent": "demo"}, out["data"])
	assert.Equal(t, "small", out["model"])
}

func TestNode_Invoke_Errors(t *testing.T) {
	plain := inferencerFunc(func(context.Context, Request) (Result, error) {
		return Result{Text: "not json"}, nil
	})

	_, err := New(plain).Invoke(t.Context(), json.RawMessage(`{"prompt":"x","json":true}`), actions.Context{})
	require.ErrorContains(t, err, "not valid json")

	_, err = New(plain).Invoke(t.Context(), json.RawMessage(`{"prompt":"{{.input.missing}}"}`), actions.Context{})
	require.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = New(nil).Invoke(t.Context(), nil, actions.Context{})
	require.ErrorIs(t, err, ErrNoInferencer)
}
