// Package executor drives runs through a workflow graph: it walks the graph from the trigger
// node, invokes node handlers, records every attempt in the step ledger and settles the run.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/graph"
	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/metrics"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/otelhelper"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine executes runs in process. Each run is driven by at most one goroutine at a time;
// delays and retry backoffs release the goroutine and resume from a clock timer.
type Engine struct {
	runs       persistence.RunRepository
	workflows  persistence.WorkflowRepository
	ledger     *ledger.Ledger
	aggregator *aggregator.Aggregator
	resolver   actions.Resolver
	logger     *slog.Logger

	clock       clockwork.Clock
	tracer      trace.Tracer
	metrics     metrics.Metrics
	publisher   eventbus.EventPublisher
	nodeTimeout time.Duration
	backoff     BackoffConfig
	policy      PolicyFunc

	mu     sync.Mutex
	active map[string]*execution
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher publishes run.completed and run.failed events.
func WithPublisher(p eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithNodeTimeout bounds every node attempt. Zero disables the bound.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

func WithBackoff(cfg BackoffConfig) Option {
	return func(e *Engine) { e.backoff = cfg }
}

// WithPolicy replaces the workflow-level retry policy.
func WithPolicy(fn PolicyFunc) Option {
	return func(e *Engine) { e.policy = fn }
}

func New(
	p persistence.Persistence,
	ledger *ledger.Ledger,
	aggregator *aggregator.Aggregator,
	resolver actions.Resolver,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		runs:       p.RunRepository(),
		workflows:  p.WorkflowRepository(),
		ledger:     ledger,
		aggregator: aggregator,
		resolver:   resolver,
		logger:     logger.With("module", "executor"),
		clock:      clockwork.NewRealClock(),
		tracer:     otelhelper.NoopTracer(),
		metrics:    metrics.Noop{},
		backoff:    DefaultBackoff(),
		active:     make(map[string]*execution),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.policy == nil {
		e.policy = func(wf *models.Workflow) RetryPolicy {
			return NewWorkflowPolicy(wf, e.backoff, e.clock)
		}
	}

	return e
}

// Submit claims a pending run and starts executing it in the background. It returns once the
// run is marked running. An error means the run was not claimed and is left unchanged.
func (e *Engine) Submit(ctx context.Context, run *models.Run) error {
	if run.Status != models.RunStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrRunNotPending, run.ID, run.Status)
	}

	wf, err := e.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	g, err := graph.Validate(wf.Nodes, wf.Edges)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}

	exec := e.newExecution(ctx, run, wf, g)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		exec.abandon()

		return ErrEngineClosed
	}

	if _, ok := e.active[run.ID]; ok {
		e.mu.Unlock()
		exec.abandon()

		return fmt.Errorf("%w: %s", ErrRunActive, run.ID)
	}

	e.active[run.ID] = exec
	e.wg.Add(1)
	e.mu.Unlock()

	run.Start(e.clock.Now())

	if err := e.runs.Update(ctx, run); err != nil {
		run.Status = models.RunStatusPending
		run.StartedAt = nil

		e.unregister(exec)
		exec.abandon()

		return fmt.Errorf("mark run running: %w", err)
	}

	exec.logger.InfoContext(ctx, "run started", "trigger_type", run.TriggerType)

	go e.drain(exec)

	return nil
}

// Cancel stops a run. For an executing run the in-flight node is aborted through its context
// and a pending delay is dropped. A pending run that no engine claimed yet is failed directly.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	exec, ok := e.active[runID]
	e.mu.Unlock()

	if ok {
		e.interrupt(exec, ErrCancelled)

		return nil
	}

	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status != models.RunStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrRunNotActive, runID, run.Status)
	}

	return e.Reject(ctx, run, ErrCancelled)
}

// Wait blocks until the run leaves the engine, then returns its stored state. A run the
// engine is not executing is returned as stored.
func (e *Engine) Wait(ctx context.Context, runID string) (*models.Run, error) {
	e.mu.Lock()
	exec, ok := e.active[runID]
	e.mu.Unlock()

	if ok {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return e.runs.GetByID(ctx, runID)
}

// Active returns the number of runs being executed or suspended.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.active)
}

// Close stops accepting runs and waits for active ones. When ctx ends first the remaining
// runs are failed with ErrShutdown.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	e.mu.Lock()
	remaining := make([]*execution, 0, len(e.active))
	for _, exec := range e.active {
		remaining = append(remaining, exec)
	}
	e.mu.Unlock()

	for _, exec := range remaining {
		e.interrupt(exec, ErrShutdown)
	}

	<-done

	return ctx.Err()
}

func (e *Engine) unregister(exec *execution) {
	e.mu.Lock()
	delete(e.active, exec.run.ID)
	e.mu.Unlock()

	e.wg.Done()
}

// interrupt cancels the run context. A run parked on a timer is resumed so it can settle.
func (e *Engine) interrupt(exec *execution, cause error) {
	exec.mu.Lock()
	exec.cancel(cause)

	resume := exec.timer != nil && exec.timer.Stop()
	if resume {
		exec.timer = nil
	}
	exec.mu.Unlock()

	if resume {
		go e.drain(exec)
	}
}

// finish settles the run: persist the terminal state, fold it into the workflow counters and
// announce it.
func (e *Engine) finish(exec *execution, failure error) {
	ctx := context.WithoutCancel(exec.ctx)
	run := exec.run
	now := e.clock.Now()

	if failure == nil {
		output, err := json.Marshal(exec.output)
		if err != nil {
			failure = &RunError{RunID: run.ID, Err: fmt.Errorf("encode output: %w", err)}
		} else {
			run.Complete(now, output)
		}
	}

	if failure != nil {
		run.Fail(now, failure.Error())
	}

	if err := e.runs.Update(ctx, run); err != nil {
		exec.logger.ErrorContext(ctx, "failed to persist run outcome", "status", run.Status, "error", err)
	}

	if _, err := e.aggregator.Aggregate(ctx, run); err != nil {
		exec.logger.ErrorContext(ctx, "failed to aggregate run", "status", run.Status, "error", err)
	}

	e.metrics.IncRunsFinished(string(run.Status))
	e.metrics.ObserveRunDuration(string(run.Status), float64(run.DurationMs)/1000)

	e.announce(ctx, run)

	exec.span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	if failure != nil {
		otelhelper.SetError(exec.span, failure)
		exec.logger.WarnContext(ctx, "run failed", "error", failure, "duration_ms", run.DurationMs)
	} else {
		exec.logger.InfoContext(ctx, "run completed", "duration_ms", run.DurationMs)
	}

	exec.span.End()
	exec.release()

	e.mu.Lock()
	delete(e.active, run.ID)
	e.mu.Unlock()

	close(exec.done)
	e.wg.Done()
}

func (e *Engine) announce(ctx context.Context, run *models.Run) {
	if e.publisher == nil {
		return
	}

	var event eventbus.Event

	switch run.Status {
	case models.RunStatusCompleted:
		event = events.RunCompleted{
			BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent, run.WorkflowID),
			RunID:      run.ID,
			Output:     run.Output,
			DurationMs: run.DurationMs,
		}
	default:
		event = events.RunFailed{
			BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, run.WorkflowID),
			RunID:      run.ID,
			Error:      run.Error,
			DurationMs: run.DurationMs,
		}
	}

	if err := e.publisher.Publish(ctx, run.WorkflowID, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish run outcome", "run_id", run.ID, "error", err)
	}
}
