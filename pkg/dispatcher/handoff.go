package dispatcher

import (
	"context"

	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/models"
)

// Handoff passes a persisted pending run to whatever executes it. *executor.Engine
// implements it for in-process execution.
type Handoff interface {
	Submit(ctx context.Context, run *models.Run) error
}

// BusHandoff publishes run.requested so a worker process claims the run.
type BusHandoff struct {
	publisher eventbus.EventPublisher
}

func NewBusHandoff(publisher eventbus.EventPublisher) *BusHandoff {
	return &BusHandoff{publisher: publisher}
}

func (h *BusHandoff) Submit(ctx context.Context, run *models.Run) error {
	return h.publisher.Publish(ctx, run.WorkflowID, events.RunRequested{
		BaseEvent:   events.NewBaseEvent(events.RunRequestedEvent, run.WorkflowID),
		RunID:       run.ID,
		TriggerType: string(run.TriggerType),
	})
}
