package services

import (
	"context"
	"fmt"

	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/models"
)

// SetStatus moves a workflow between draft, active and paused. Activation re-validates the
// definition so an active workflow always has an executable graph.
func (w *Workflow) SetStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.Workflow, error) {
	if !validStatus(status) {
		return nil, NewValidationError("SetStatus", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", status), ErrInvalidStatus)
	}

	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	previous := workflow.Status
	if previous == status {
		return workflow, nil
	}

	if status == models.WorkflowStatusActive {
		if err := w.check("SetStatus", workflow); err != nil {
			return nil, err
		}
	}

	workflow.Status = status
	workflow.UpdatedAt = w.clock.Now().UTC()

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow status changed", "workflow_id", workflowID, "from", previous, "to", status)
	w.announce(ctx, workflow, previous)

	return workflow, nil
}

func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.SetStatus(ctx, workflowID, models.WorkflowStatusActive)
}

func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.SetStatus(ctx, workflowID, models.WorkflowStatusPaused)
}

// announce publishes workflow.activated for an active workflow, so sources pick up config
// changes too, and workflow.deactivated when it just left the active state.
func (w *Workflow) announce(ctx context.Context, workflow *models.Workflow, previous models.WorkflowStatus) {
	switch {
	case workflow.Status == models.WorkflowStatusActive:
		w.publishEvent(ctx, workflow.ID, events.WorkflowActivated{
			BaseEvent:   events.NewBaseEvent(events.WorkflowActivatedEvent, workflow.ID),
			TriggerType: string(workflow.TriggerType),
		})
	case previous == models.WorkflowStatusActive:
		w.publishEvent(ctx, workflow.ID, events.WorkflowDeactivated{
			BaseEvent: events.NewBaseEvent(events.WorkflowDeactivatedEvent, workflow.ID),
		})
	}
}

func (w *Workflow) announceDeleted(ctx context.Context, workflowID string) {
	w.publishEvent(ctx, workflowID, events.WorkflowDeleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeletedEvent, workflowID),
	})
}

func (w *Workflow) publishEvent(ctx context.Context, workflowID string, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	if err := w.publisher.Publish(ctx, workflowID, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish workflow event", "workflow_id", workflowID, "type", event.GetType(), "error", err)
	}
}
