// Package persistence provides the data storage abstraction for workflows, runs and steps.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/automata/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	StepRepository() StepRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions and their aggregate counters.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)

	// Save creates or updates a workflow definition. Counters are never written by Save.
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error

	// ApplyRunOutcome increments the counters of workflowID for a terminal run, recording runID
	// so that a second call for the same run is a no-op. It reports whether the counters changed.
	ApplyRunOutcome(ctx context.Context, workflowID, runID string, status models.RunStatus, at time.Time) (bool, error)
}

// RunRepository stores run records.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	Update(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByWorkflow(ctx context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error)
	CountByWorkflow(ctx context.Context, workflowID string) (int64, error)
	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// StepRepository stores step records. Append inserts a step or replaces the record with the
// same ID, so a step can be updated in place until it is terminal.
type StepRepository interface {
	Append(ctx context.Context, step *models.Step) error
	ListByRun(ctx context.Context, runID string) ([]*models.Step, error)
	DeleteByRun(ctx context.Context, runID string) error
}

const (
	DefaultRunPageSize = 20
	MaxRunPageSize     = 100
)

// NormalizeRunListOptions applies the default and maximum page size.
func NormalizeRunListOptions(opts models.RunListOptions) models.RunListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultRunPageSize
	}

	if opts.Limit > MaxRunPageSize {
		opts.Limit = MaxRunPageSize
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	return opts
}

// CountersDelta returns the counter increments for a terminal run status.
func CountersDelta(status models.RunStatus) (success, failure int64, ok bool) {
	switch status {
	case models.RunStatusCompleted:
		return 1, 0, true
	case models.RunStatusFailed:
		return 0, 1, true
	default:
		return 0, 0, false
	}
}
