package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/models"
)

// Listen claims runs handed off through the event bus as run.requested events and stops the
// runs named by run.cancel_requested events.
func (e *Engine) Listen(bus eventbus.EventSubscriber) error {
	if err := bus.Handle(events.RunRequestedEvent, e.handleRunRequested); err != nil {
		return err
	}

	return bus.Handle(events.RunCancelRequestedEvent, e.handleRunCancelRequested)
}

func (e *Engine) handleRunRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.RunRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	run, err := e.runs.GetByID(ctx, requested.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", requested.RunID, err)
	}

	err = e.Submit(ctx, run)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunNotPending), errors.Is(err, ErrRunActive):
		e.logger.DebugContext(ctx, "ignoring run request", "run_id", run.ID, "status", run.Status)

		return nil
	case errors.Is(err, ErrEngineClosed):
		return err
	default:
		return e.Reject(ctx, run, err)
	}
}

// handleRunCancelRequested interrupts the run when this engine executes it. Other engines
// ignore the request.
func (e *Engine) handleRunCancelRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.RunCancelRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	e.mu.Lock()
	exec, ok := e.active[requested.RunID]
	e.mu.Unlock()

	if !ok {
		e.logger.DebugContext(ctx, "cancel request for a run not held here", "run_id", requested.RunID)

		return nil
	}

	exec.logger.InfoContext(ctx, "run cancel requested")
	e.interrupt(exec, ErrCancelled)

	return nil
}

// BusCanceller cancels runs executed by worker processes. Running runs are asked to stop with
// run.cancel_requested; the worker holding the run settles it, so the stored status changes
// asynchronously. Pending runs are failed directly.
type BusCanceller struct {
	engine    *Engine
	publisher eventbus.EventPublisher
}

func NewBusCanceller(engine *Engine, publisher eventbus.EventPublisher) *BusCanceller {
	return &BusCanceller{engine: engine, publisher: publisher}
}

func (c *BusCanceller) Cancel(ctx context.Context, runID string) error {
	run, err := c.engine.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunNotActive, runID, run.Status)
	}

	// Published for pending runs too: a worker may be claiming the run right now.
	err = c.publisher.Publish(ctx, run.WorkflowID, events.RunCancelRequested{
		BaseEvent: events.NewBaseEvent(events.RunCancelRequestedEvent, run.WorkflowID),
		RunID:     run.ID,
	})
	if err != nil {
		return fmt.Errorf("publish cancel request: %w", err)
	}

	if run.Status != models.RunStatusPending {
		return nil
	}

	err = c.engine.Cancel(ctx, runID)
	if !errors.Is(err, ErrRunNotActive) {
		return err
	}

	// A worker claimed the run meanwhile and received the request above.
	current, getErr := c.engine.runs.GetByID(ctx, runID)
	if getErr == nil && current.Status == models.RunStatusRunning {
		return nil
	}

	return err
}

// Reject fails a pending run that could not be started and folds it into the workflow
// counters.
func (e *Engine) Reject(ctx context.Context, run *models.Run, reason error) error {
	run.Fail(e.clock.Now(), reason.Error())

	if err := e.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("fail run: %w", err)
	}

	if _, err := e.aggregator.Aggregate(ctx, run); err != nil {
		return fmt.Errorf("aggregate run: %w", err)
	}

	e.metrics.IncRunsFinished(string(run.Status))
	e.announce(ctx, run)

	return nil
}
