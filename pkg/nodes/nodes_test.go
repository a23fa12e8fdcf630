package nodes

import (
	"encoding/json"
	"testing"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	registry := actions.NewRegistry(log.Discard())
	require.NoError(t, Register(registry, Collaborators{}))

	assert.ElementsMatch(t, []string{
		models.NodeTypeTrigger, models.NodeTypeCondition, models.NodeTypeDelay, models.NodeTypeWebhook,
		models.NodeTypeSendEmail, models.NodeTypeAction, models.NodeTypeEnrich, models.NodeTypeScore,
		models.NodeTypeAI,
	}, registry.NodeTypes())
}

func TestRegister_SchemasValidateNodeData(t *testing.T) {
	registry := actions.NewRegistry(log.Discard())
	require.NoError(t, Register(registry, Collaborators{}))

	valid := []models.Node{
		{ID: "t", Type: models.NodeTypeTrigger},
		{ID: "c1", Type: models.NodeTypeCondition, Data: json.RawMessage(`{"expression":"{{.input.ok}}"}`)},
		{ID: "c2", Type: models.NodeTypeCondition, Data: json.RawMessage(`{"field":"score","operator":"greater_than","value":50}`)},
		{ID: "d1", Type: models.NodeTypeDelay, Data: json.RawMessage(`{"duration":"5m"}`)},
		{ID: "d2", Type: models.NodeTypeDelay, Data: json.RawMessage(`{"amount":2,"unit":"days"}`)},
		{ID: "w", Type: models.NodeTypeWebhook, Data: json.RawMessage(`{"url":"https://example.com","method":"POST"}`)},
		{ID: "e", Type: models.NodeTypeSendEmail, Data: json.RawMessage(`{"to":"{{.trigger.email}}","subject":"Hi"}`)},
		{ID: "a", Type: models.NodeTypeAction, Data: json.RawMessage(`{"to":"a@b.c","template_id":"welcome"}`)},
		{ID: "en", Type: models.NodeTypeEnrich},
		{ID: "s", Type: models.NodeTypeScore, Data: json.RawMessage(`{"threshold":70}`)},
		{ID: "ai", Type: models.NodeTypeAI, Data: json.RawMessage(`{"prompt":"Summarize"}`)},
	}
	require.NoError(t, registry.ValidateNodes(valid))

	invalid := []models.Node{
		{ID: "c", Type: models.NodeTypeCondition, Data: json.RawMessage(`{"operator":"equals"}`)},
		{ID: "c", Type: models.NodeTypeCondition, Data: json.RawMessage(`{"field":"a","operator":"like"}`)},
		{ID: "d", Type: models.NodeTypeDelay, Data: json.RawMessage(`{"unit":"days"}`)},
		{ID: "w", Type: models.NodeTypeWebhook, Data: json.RawMessage(`{"method":"POST"}`)},
		{ID: "e", Type: models.NodeTypeSendEmail, Data: json.RawMessage(`{"to":"a@b.c"}`)},
		{ID: "ai", Type: models.NodeTypeAI, Data: json.RawMessage(`{"prompt":""}`)},
	}

	for _, node := range invalid {
		require.ErrorIs(t, registry.ValidateNode(node), actions.ErrInvalidNodeData, node.ID)
	}
}
