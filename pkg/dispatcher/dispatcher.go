// Package dispatcher admits triggers: it checks the target workflow, creates a pending run and
// hands it off for execution without waiting for the outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/metrics"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Dispatcher struct {
	workflows  persistence.WorkflowRepository
	runs       persistence.RunRepository
	handoff    Handoff
	aggregator *aggregator.Aggregator
	logger     *slog.Logger
	clock      clockwork.Clock
	metrics    metrics.Metrics
}

type Option func(*Dispatcher)

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(
	p persistence.Persistence,
	handoff Handoff,
	aggregator *aggregator.Aggregator,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		workflows:  p.WorkflowRepository(),
		runs:       p.RunRepository(),
		handoff:    handoff,
		aggregator: aggregator,
		logger:     logger.With("module", "dispatcher"),
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.Noop{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch admits a trigger for workflowID and returns the pending run. Rejections are *Error
// values and create no run.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowID string, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error) {
	wf, err := d.workflows.GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, &Error{Kind: NotFound, WorkflowID: workflowID, TriggerType: triggerType}
		}

		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	return d.DispatchWorkflow(ctx, wf, triggerType, data)
}

// DispatchWorkflow admits a trigger for an already loaded workflow.
func (d *Dispatcher) DispatchWorkflow(ctx context.Context, wf *models.Workflow, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error) {
	logger := d.logger.With("workflow_id", wf.ID, "trigger_type", triggerType)

	if !wf.AcceptsTrigger(triggerType) {
		logger.InfoContext(ctx, "trigger rejected", "reason", NotActive, "status", wf.Status)

		return nil, &Error{Kind: NotActive, WorkflowID: wf.ID, TriggerType: triggerType, Status: wf.Status}
	}

	if triggerType != models.TriggerTypeManual && triggerType != wf.TriggerType {
		logger.InfoContext(ctx, "trigger rejected", "reason", TriggerMismatch, "configured", wf.TriggerType)

		return nil, &Error{Kind: TriggerMismatch, WorkflowID: wf.ID, TriggerType: triggerType, Status: wf.Status}
	}

	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	if !json.Valid(data) {
		return nil, ErrInvalidPayload
	}

	run := &models.Run{
		ID:          uuid.Must(uuid.NewV7()).String(),
		WorkflowID:  wf.ID,
		Status:      models.RunStatusPending,
		TriggerType: triggerType,
		TriggerData: data,
		CreatedAt:   d.clock.Now(),
	}

	if err := d.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	d.metrics.IncRunsDispatched(string(triggerType))
	logger.InfoContext(ctx, "run dispatched", "run_id", run.ID)

	if err := d.handoff.Submit(ctx, run); err != nil {
		d.abort(ctx, run, err)

		return run, fmt.Errorf("%w: %w", ErrHandoff, err)
	}

	return run, nil
}

// abort fails a run nobody claimed so it does not stay pending forever.
func (d *Dispatcher) abort(ctx context.Context, run *models.Run, cause error) {
	logger := d.logger.With("workflow_id", run.WorkflowID, "run_id", run.ID)
	logger.ErrorContext(ctx, "run handoff failed", "error", cause)

	ctx = context.WithoutCancel(ctx)

	run.Fail(d.clock.Now(), fmt.Sprintf("%s: %v", ErrHandoff, cause))

	if err := d.runs.Update(ctx, run); err != nil {
		logger.ErrorContext(ctx, "failed to mark run failed", "error", err)

		return
	}

	if _, err := d.aggregator.Aggregate(ctx, run); err != nil {
		logger.ErrorContext(ctx, "failed to aggregate run", "error", err)
	}

	d.metrics.IncRunsFinished(string(run.Status))
}

// DispatchEvent admits eventName for every event-triggered workflow subscribed to it. Paused
// and draft subscribers are reported as NotActive errors alongside the runs that were created.
func (d *Dispatcher) DispatchEvent(ctx context.Context, eventName string, payload json.RawMessage) ([]*models.Run, error) {
	data, err := eventData(eventName, payload)
	if err != nil {
		return nil, err
	}

	candidates, err := d.workflows.FindByTriggerType(ctx, models.TriggerTypeEvent)
	if err != nil {
		return nil, fmt.Errorf("find event workflows: %w", err)
	}

	var (
		runs []*models.Run
		errs []error
	)

	for _, wf := range candidates {
		cfg, err := wf.EventTrigger()
		if err != nil {
			d.logger.WarnContext(ctx, "skipping workflow with invalid event trigger", "workflow_id", wf.ID, "error", err)

			continue
		}

		if cfg.EventName != eventName {
			continue
		}

		run, err := d.DispatchWorkflow(ctx, wf, models.TriggerTypeEvent, data)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		runs = append(runs, run)
	}

	d.logger.DebugContext(ctx, "event dispatched", "event", eventName, "runs", len(runs))

	return runs, errors.Join(errs...)
}

// eventData builds the trigger data of an event run. Object payloads get an "event" key naming
// the event; other payloads are wrapped under "data".
func eventData(eventName string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	data, ok := value.(map[string]any)
	if !ok {
		data = map[string]any{"data": value}
	}

	if _, set := data["event"]; !set {
		data["event"] = eventName
	}

	return json.Marshal(data)
}

// ResolveWebhook finds the workflow bound to path, whatever its status.
func (d *Dispatcher) ResolveWebhook(ctx context.Context, path string) (*models.Workflow, models.WebhookTriggerConfig, error) {
	path = strings.Trim(path, "/")

	candidates, err := d.workflows.FindByTriggerType(ctx, models.TriggerTypeWebhook)
	if err != nil {
		return nil, models.WebhookTriggerConfig{}, fmt.Errorf("find webhook workflows: %w", err)
	}

	for _, wf := range candidates {
		cfg, err := wf.WebhookTrigger()
		if err != nil {
			continue
		}

		if cfg.Path == path {
			return wf, cfg, nil
		}
	}

	return nil, models.WebhookTriggerConfig{}, &Error{Kind: NotFound, TriggerType: models.TriggerTypeWebhook, Path: path}
}

// DispatchWebhook admits a webhook call on path.
func (d *Dispatcher) DispatchWebhook(ctx context.Context, path string, payload json.RawMessage) (*models.Run, error) {
	wf, _, err := d.ResolveWebhook(ctx, path)
	if err != nil {
		return nil, err
	}

	return d.DispatchWorkflow(ctx, wf, models.TriggerTypeWebhook, payload)
}
