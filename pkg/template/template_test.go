package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scope() Scope {
	return Scope{
		WorkflowID: "wf-1",
		RunID:      "run-1",
		NodeID:     "node-1",
		Trigger:    map[string]any{"event": "contact.created"},
		Input: map[string]any{
			"contact": map[string]any{"email": "ada@example.com", "score": 82.0},
			"tags":    []any{"vip"},
		},
	}
}

func TestRenderWithScope(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     any
	}{
		{"string", "{{.input.contact.email}}", "ada@example.com"},
		{"number", "{{.input.contact.score}}", 82.0},
		{"comparison", "{{gt .input.contact.score 50.0}}", true},
		{"run metadata", "{{.run.id}}/{{.run.workflow_id}}", "run-1/wf-1"},
		{"json object", `{"email":"{{.input.contact.email}}"}`, map[string]any{"email": "ada@example.com"}},
		{"json helper", "{{json .input.tags}}", []any{"vip"}},
		{"trigger data", "{{.trigger.event}}", "contact.created"},
		{"default", `{{default "none" .input.missing}}`, "none"},
		{"plain text", "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderWithScope(tt.template, scope())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderString_KeepsText(t *testing.T) {
	got, err := RenderString("Hi {{.input.contact.email}}, score 82", scope())
	require.NoError(t, err)
	assert.Equal(t, "Hi ada@example.com, score 82", got)

	got, err = RenderString("true", scope())
	require.NoError(t, err)
	assert.Equal(t, "true", got)
}

func TestRender_Errors(t *testing.T) {
	_, err := RenderWithScope("{{.input.contact.email", scope())
	require.Error(t, err)

	_, err = RenderWithScope("{{gt .input.contact.score 50}}", scope())
	require.Error(t, err)

	_, err = Parse("{{if}}")
	require.Error(t, err)
}

func TestRenderString_MissingKeyIsEmpty(t *testing.T) {
	got, err := RenderString("to:{{.trigger.nope}}", scope())
	require.NoError(t, err)
	assert.Equal(t, "to:", got)
}
