package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/graph"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// item is one queued node visit. input is the output of the node that enqueued it.
type item struct {
	nodeID  string
	input   map[string]any
	attempt int
	backoff backoff.BackOff
}

type execution struct {
	run      *models.Run
	workflow *models.Workflow
	graph    *graph.Graph
	policy   RetryPolicy
	trigger  map[string]any
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	span   trace.Span
	done   chan struct{}

	// owned by the goroutine currently draining the run
	queue    []item
	visited  map[string]struct{}
	sequence int
	output   map[string]any

	mu    sync.Mutex
	timer clockwork.Timer
}

func (e *Engine) newExecution(ctx context.Context, run *models.Run, wf *models.Workflow, g *graph.Graph) *execution {
	base, span := otelhelper.StartSpan(context.WithoutCancel(ctx), e.tracer, "run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(run.TriggerType)),
	)
	runCtx, cancel := context.WithCancelCause(base)

	exec := &execution{
		run:      run,
		workflow: wf,
		graph:    g,
		policy:   e.policy(wf),
		trigger:  decodeTriggerData(run.TriggerData),
		logger:   e.logger.With("run_id", run.ID, "workflow_id", wf.ID),
		ctx:      runCtx,
		cancel:   cancel,
		span:     span,
		done:     make(chan struct{}),
		visited:  make(map[string]struct{}),
		output:   map[string]any{},
	}

	exec.enqueue(g.Trigger().ID, exec.trigger)

	return exec
}

func decodeTriggerData(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err == nil && data != nil {
		return data
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return map[string]any{}
	}

	return map[string]any{"data": value}
}

// release frees the run context of an execution that will not be drained again.
func (x *execution) release() {
	x.cancel(context.Canceled)
}

// abandon drops an execution that never started.
func (x *execution) abandon() {
	x.span.End()
	x.release()
}

// enqueue adds nodeID unless it was already visited in this run.
func (x *execution) enqueue(nodeID string, input map[string]any) {
	if _, seen := x.visited[nodeID]; seen {
		return
	}

	x.visited[nodeID] = struct{}{}
	x.queue = append(x.queue, item{nodeID: nodeID, input: input, attempt: 1})
}

func (x *execution) enqueueSuccessors(nodeID string, input map[string]any) {
	for _, next := range x.graph.Successors(nodeID) {
		x.enqueue(next, input)
	}
}

// outcome tells the drain loop how to continue after a node visit.
type outcome struct {
	// wait suspends the run before the next visit.
	wait time.Duration
	// failure settles the run as failed.
	failure error
}

// drain processes queued visits until the run settles or suspends.
func (e *Engine) drain(exec *execution) {
	for {
		if exec.ctx.Err() != nil {
			e.finish(exec, &RunError{RunID: exec.run.ID, Err: context.Cause(exec.ctx)})

			return
		}

		if len(exec.queue) == 0 {
			e.finish(exec, nil)

			return
		}

		next := exec.queue[0]
		exec.queue = exec.queue[1:]

		result := e.visit(exec, next)

		if result.failure != nil {
			if exec.ctx.Err() != nil {
				continue
			}

			e.finish(exec, result.failure)

			return
		}

		if result.wait > 0 && e.suspend(exec, result.wait) {
			return
		}
	}
}

// suspend parks the run on a timer. It returns false when the run was cancelled meanwhile.
func (e *Engine) suspend(exec *execution, d time.Duration) bool {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.ctx.Err() != nil {
		return false
	}

	exec.logger.DebugContext(exec.ctx, "run suspended", "resume_in", d)

	exec.timer = e.clock.AfterFunc(d, func() {
		exec.mu.Lock()
		exec.timer = nil
		exec.mu.Unlock()

		e.drain(exec)
	})

	return true
}

// visit runs one attempt of a node, records it and enqueues what follows.
func (e *Engine) visit(exec *execution, it item) outcome {
	node, ok := exec.graph.Node(it.nodeID)
	if !ok {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: it.nodeID, Err: fmt.Errorf("node %s not in graph", it.nodeID)}}
	}

	storeCtx := context.WithoutCancel(exec.ctx)
	logger := exec.logger.With("node_id", node.ID, "node_type", node.Type, "attempt", it.attempt)

	exec.sequence++
	step := &models.Step{
		ID:        uuid.Must(uuid.NewV7()).String(),
		RunID:     exec.run.ID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    models.StepStatusRunning,
		StartedAt: e.clock.Now(),
		Attempt:   it.attempt,
		Sequence:  exec.sequence,
	}

	if err := e.ledger.Record(storeCtx, step); err != nil {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: fmt.Errorf("record step: %w", err)}}
	}

	output, err := e.invoke(exec, node, it)
	if err != nil {
		return e.failed(exec, node, it, step, err, logger)
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		return e.failed(exec, node, it, step, fmt.Errorf("encode output: %w", err), logger)
	}

	step.Complete(e.clock.Now(), encoded)

	if err := e.ledger.Record(storeCtx, step); err != nil {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: fmt.Errorf("record step: %w", err)}}
	}

	e.metrics.IncSteps(node.Type, string(step.Status))
	logger.DebugContext(exec.ctx, "node completed", "duration_ms", step.DurationMs)

	switch node.Type {
	case models.NodeTypeCondition:
		branch := actions.BranchOf(output)

		for _, edge := range exec.graph.Outgoing(node.ID) {
			if strings.EqualFold(edge.Label, branch) {
				exec.enqueue(edge.Target, it.input)

				break
			}
		}

		return outcome{}
	case models.NodeTypeDelay:
		exec.enqueueSuccessors(node.ID, it.input)

		return outcome{wait: actions.DelayOf(output)}
	default:
		exec.output = output
		exec.enqueueSuccessors(node.ID, output)

		return outcome{}
	}
}

// failed records a failed attempt and applies the retry, halt or continue rule.
func (e *Engine) failed(exec *execution, node models.Node, it item, step *models.Step, cause error, logger *slog.Logger) outcome {
	storeCtx := context.WithoutCancel(exec.ctx)
	stepErr := &StepError{NodeID: node.ID, NodeType: node.Type, Attempt: it.attempt, Err: cause}

	step.Fail(e.clock.Now(), cause.Error())

	if err := e.ledger.Record(storeCtx, step); err != nil {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: fmt.Errorf("record step: %w", err)}}
	}

	e.metrics.IncSteps(node.Type, string(step.Status))

	if exec.ctx.Err() != nil {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: context.Cause(exec.ctx)}}
	}

	logger.WarnContext(exec.ctx, "node failed", "error", cause)

	if node.IsTrigger() {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: stepErr}}
	}

	if exec.policy.Retryable(node, it.attempt) {
		if it.backoff == nil {
			it.backoff = exec.policy.NewBackOff()
		}

		if wait := it.backoff.NextBackOff(); wait != backoff.Stop {
			retry := item{nodeID: it.nodeID, input: it.input, attempt: it.attempt + 1, backoff: it.backoff}
			exec.queue = append([]item{retry}, exec.queue...)

			e.metrics.IncRetries(node.Type)
			logger.InfoContext(exec.ctx, "retrying node", "wait", wait)

			return outcome{wait: wait}
		}
	}

	if exec.policy.HaltOnFailure() {
		return outcome{failure: &RunError{RunID: exec.run.ID, NodeID: node.ID, Err: stepErr}}
	}

	// continue: a failed condition selects no branch
	if node.Type != models.NodeTypeCondition {
		exec.enqueueSuccessors(node.ID, it.input)
	}

	return outcome{}
}

type invocation struct {
	output map[string]any
	err    error
}

// invoke calls the node handler under the node timeout. The attempt is abandoned when the run
// is cancelled or the timeout expires even if the handler ignores its context.
func (e *Engine) invoke(exec *execution, node models.Node, it item) (map[string]any, error) {
	handler, err := e.resolver.Resolve(node.Type)
	if err != nil {
		return nil, err
	}

	ctx := exec.ctx

	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeoutCause(ctx, e.nodeTimeout, ErrNodeTimeout)
		defer cancel()
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node "+node.Type,
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
		attribute.Int(otelhelper.AttemptKey, it.attempt),
	)
	defer span.End()

	actx := actions.Context{
		WorkflowID:  exec.workflow.ID,
		RunID:       exec.run.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Attempt:     it.attempt,
		TriggerType: exec.run.TriggerType,
		Trigger:     exec.trigger,
		Input:       it.input,
		Logger:      exec.logger.With("node_id", node.ID),
	}

	result := make(chan invocation, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- invocation{err: fmt.Errorf("node handler panicked: %v", r)}
			}
		}()

		output, err := handler.Invoke(ctx, node.Data, actx)
		result <- invocation{output: output, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			otelhelper.SetError(span, r.err)

			return nil, r.err
		}

		if r.output == nil {
			r.output = map[string]any{}
		}

		return r.output, nil
	case <-ctx.Done():
		err := context.Cause(ctx)
		otelhelper.SetError(span, err)

		return nil, err
	}
}
