package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/executor"
	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

// Dispatcher admits triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowID string, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error)
}

// Canceller stops runs.
type Canceller interface {
	Cancel(ctx context.Context, runID string) error
}

// Run exposes run history and the manual run actions.
type Run struct {
	persistence persistence.Persistence
	ledger      *ledger.Ledger
	dispatcher  Dispatcher
	canceller   Canceller
}

func NewRun(persistence persistence.Persistence, ledger *ledger.Ledger, dispatcher Dispatcher, canceller Canceller) *Run {
	return &Run{
		persistence: persistence,
		ledger:      ledger,
		dispatcher:  dispatcher,
		canceller:   canceller,
	}
}

// ListRuns returns a page of the runs of workflowID, newest first.
func (r *Run) ListRuns(ctx context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error) {
	if _, err := r.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	list, err := r.persistence.RunRepository().ListByWorkflow(ctx, workflowID, persistence.NormalizeRunListOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return list, nil
}

func (r *Run) FetchRun(ctx context.Context, runID string) (*models.Run, error) {
	return r.persistence.RunRepository().GetByID(ctx, runID)
}

// FetchSteps returns every recorded attempt of the run in execution order.
func (r *Run) FetchSteps(ctx context.Context, runID string) ([]*models.Step, error) {
	if _, err := r.persistence.RunRepository().GetByID(ctx, runID); err != nil {
		return nil, err
	}

	return r.ledger.ListByRun(ctx, runID)
}

// Trigger starts a manual run ("Run Now").
func (r *Run) Trigger(ctx context.Context, workflowID string, data json.RawMessage) (*models.Run, error) {
	run, err := r.dispatcher.Dispatch(ctx, workflowID, models.TriggerTypeManual, data)
	if err != nil {
		return run, mapDispatchError("Trigger", err)
	}

	return run, nil
}

// Cancel stops a pending or running run.
func (r *Run) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	if err := r.canceller.Cancel(ctx, runID); err != nil {
		if errors.Is(err, executor.ErrRunNotActive) {
			return nil, NewValidationError("Cancel", "RUN_NOT_ACTIVE", err.Error(), ErrRunNotActive)
		}

		return nil, err
	}

	return r.persistence.RunRepository().GetByID(ctx, runID)
}

// mapDispatchError turns admission rejections into service errors.
func mapDispatchError(op string, err error) error {
	var de *dispatcher.Error
	if !errors.As(err, &de) {
		if errors.Is(err, dispatcher.ErrInvalidPayload) {
			return NewValidationError(op, "INVALID_PAYLOAD", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		}

		return err
	}

	switch de.Kind {
	case dispatcher.NotFound:
		return NewValidationError(op, "WORKFLOW_NOT_FOUND", de.Error(), fmt.Errorf("%w: %w", ErrWorkflowNotFound, err))
	case dispatcher.NotActive:
		return NewValidationError(op, "WORKFLOW_NOT_ACTIVE", de.Error(), fmt.Errorf("%w: %w", ErrWorkflowNotActive, err))
	default:
		return NewValidationError(op, "TRIGGER_MISMATCH", de.Error(), fmt.Errorf("%w: %w", ErrTriggerMismatch, err))
	}
}

// MapDispatchError is used by trigger sources that call the dispatcher directly.
func MapDispatchError(err error) error {
	return mapDispatchError("Dispatch", err)
}
