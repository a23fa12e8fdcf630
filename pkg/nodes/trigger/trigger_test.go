package trigger

import (
	"testing"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Invoke(t *testing.T) {
	trigger := map[string]any{"contact_id": "c-1"}

	out, err := New().Invoke(t.Context(), nil, actions.Context{
		TriggerType: models.TriggerTypeEvent,
		Trigger:     trigger,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"contact_id": "c-1", "trigger_type": "event"}, out)
	assert.NotContains(t, trigger, "trigger_type")
}

func TestNode_Invoke_EmptyTrigger(t *testing.T) {
	out, err := New().Invoke(t.Context(), nil, actions.Context{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
