// Package nodes registers the built-in node handlers.
package nodes

import (
	"fmt"
	"net/http"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/nodes/ai"
	"github.com/dukex/automata/pkg/nodes/condition"
	"github.com/dukex/automata/pkg/nodes/delay"
	"github.com/dukex/automata/pkg/nodes/email"
	"github.com/dukex/automata/pkg/nodes/enrich"
	"github.com/dukex/automata/pkg/nodes/score"
	"github.com/dukex/automata/pkg/nodes/trigger"
	"github.com/dukex/automata/pkg/nodes/webhook"
)

// Collaborators are the external providers used by action nodes. Nil providers make the
// corresponding nodes fail at invocation.
type Collaborators struct {
	Email      email.Sender
	Enricher   enrich.Enricher
	Scorer     score.Scorer
	Inferencer ai.Inferencer
	HTTPClient *http.Client
}

// Register adds every built-in node type to registry.
func Register(registry *actions.Registry, c Collaborators) error {
	builtins := []actions.Action{
		trigger.New(),
		condition.New(),
		delay.New(),
		webhook.New(c.HTTPClient),
		email.New(models.NodeTypeSendEmail, c.Email),
		email.New(models.NodeTypeAction, c.Email),
		enrich.New(c.Enricher),
		score.New(c.Scorer),
		ai.New(c.Inferencer),
	}

	for _, action := range builtins {
		if err := registry.Register(action); err != nil {
			return fmt.Errorf("register %s: %w", action.ID(), err)
		}
	}

	return nil
}
