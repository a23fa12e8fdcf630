// Package aggregator folds terminal runs into the owning workflow's counters.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

var ErrRunNotTerminal = errors.New("run is not terminal")

// Recorder observes applied outcomes. Implemented by the metrics package.
type Recorder interface {
	RunAggregated(workflowID, status string)
}

// Aggregator maintains runCount, successCount, errorCount and lastRunAt of workflows.
type Aggregator struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
	recorder  Recorder

	mu    sync.Mutex
	locks map[string]*workflowLock
}

type workflowLock struct {
	sync.Mutex
	refs int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRecorder reports every applied outcome to r.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		a.recorder = r
	}
}

// New creates an aggregator over a workflow repository.
func New(workflows persistence.WorkflowRepository, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		workflows: workflows,
		logger:    logger.With("module", "aggregator"),
		locks:     make(map[string]*workflowLock),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Aggregate applies a terminal run to its workflow counters. Applying the same run twice is a
// no-op; applied reports whether the counters changed.
func (a *Aggregator) Aggregate(ctx context.Context, run *models.Run) (applied bool, err error) {
	if !run.Status.IsTerminal() {
		return false, fmt.Errorf("%w: run %s is %s", ErrRunNotTerminal, run.ID, run.Status)
	}

	at := run.CreatedAt
	if run.CompletedAt != nil {
		at = *run.CompletedAt
	}

	unlock := a.lock(run.WorkflowID)
	defer unlock()

	applied, err = a.workflows.ApplyRunOutcome(ctx, run.WorkflowID, run.ID, run.Status, at)
	if err != nil {
		return false, fmt.Errorf("failed to aggregate run %s: %w", run.ID, err)
	}

	if !applied {
		a.logger.DebugContext(ctx, "run already aggregated", "run_id", run.ID, "workflow_id", run.WorkflowID)

		return false, nil
	}

	if a.recorder != nil {
		a.recorder.RunAggregated(run.WorkflowID, string(run.Status))
	}

	a.logger.InfoContext(ctx, "run aggregated",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"status", run.Status,
	)

	return true, nil
}

// lock serializes aggregation per workflow; the entry is dropped when the last holder leaves.
func (a *Aggregator) lock(workflowID string) func() {
	a.mu.Lock()

	l, ok := a.locks[workflowID]
	if !ok {
		l = &workflowLock{}
		a.locks[workflowID] = l
	}

	l.refs++
	a.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		a.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(a.locks, workflowID)
		}

		a.mu.Unlock()
	}
}
