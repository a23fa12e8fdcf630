// Package ledger is the append-mostly execution history of runs. Every node attempt is one
// Step; retries add Steps for the same node and the highest attempt is the node's outcome.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

var ErrInvalidStep = errors.New("invalid step")

// Ledger records and reads back Step records.
type Ledger struct {
	steps  persistence.StepRepository
	logger *slog.Logger
}

// New creates a ledger over a step repository.
func New(steps persistence.StepRepository, logger *slog.Logger) *Ledger {
	return &Ledger{
		steps:  steps,
		logger: logger.With("module", "ledger"),
	}
}

// Record durably writes step. A step may be recorded several times while it transitions; the
// last write wins.
func (l *Ledger) Record(ctx context.Context, step *models.Step) error {
	if step.ID == "" || step.RunID == "" || step.NodeID == "" {
		return fmt.Errorf("%w: id, run id and node id are required", ErrInvalidStep)
	}

	if step.Attempt < 1 {
		return fmt.Errorf("%w: attempt must be at least 1, got %d", ErrInvalidStep, step.Attempt)
	}

	if err := l.steps.Append(ctx, step); err != nil {
		return fmt.Errorf("failed to record step %s of run %s: %w", step.NodeID, step.RunID, err)
	}

	l.logger.DebugContext(ctx, "step recorded",
		"run_id", step.RunID,
		"node_id", step.NodeID,
		"attempt", step.Attempt,
		"status", step.Status,
	)

	return nil
}

// ListByRun returns the steps of runID in execution order.
func (l *Ledger) ListByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	steps, err := l.steps.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Before(steps[j])
	})

	return steps, nil
}

// Latest returns the highest attempt recorded for nodeID in runID, or nil when the node never ran.
func (l *Ledger) Latest(ctx context.Context, runID, nodeID string) (*models.Step, error) {
	steps, err := l.steps.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var latest *models.Step

	for _, step := range steps {
		if step.NodeID != nodeID {
			continue
		}

		if latest == nil || step.Attempt > latest.Attempt {
			latest = step
		}
	}

	return latest, nil
}

// FinalSteps returns the latest attempt of every node that ran in runID, in execution order.
func (l *Ledger) FinalSteps(ctx context.Context, runID string) ([]*models.Step, error) {
	steps, err := l.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*models.Step, len(steps))
	order := make([]string, 0, len(steps))

	for _, step := range steps {
		current, seen := latest[step.NodeID]
		if !seen {
			order = append(order, step.NodeID)
		}

		if !seen || step.Attempt >= current.Attempt {
			latest[step.NodeID] = step
		}
	}

	final := make([]*models.Step, 0, len(order))
	for _, nodeID := range order {
		final = append(final, latest[nodeID])
	}

	return final, nil
}
