package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root  string
	locks keyedMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.root, "workflows", id+".json")
}

// GetAll returns every workflow ordered by creation time, newest first.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	files, err := listJSON(filepath.Join(wr.root, "workflows"))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		var workflow models.Workflow
		if err := readJSON(file, &workflow); err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load workflow %s: %w", filepath.Base(file), err)
		}

		workflows = append(workflows, &workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return wr.read(id)
}

func (wr *WorkflowRepository) read(id string) (*models.Workflow, error) {
	var workflow models.Workflow

	if err := readJSON(wr.path(id), &workflow); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// FindByTriggerType returns every workflow configured with triggerType.
func (wr *WorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	all, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.TriggerType == triggerType {
			matches = append(matches, workflow)
		}
	}

	return matches, nil
}

// Save writes the workflow definition, keeping the stored counters.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	unlock := wr.locks.lock(workflow.ID)
	defer unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = workflow.CreatedAt
	}

	toSave := *workflow

	existing, err := wr.read(workflow.ID)
	switch {
	case err == nil:
		toSave.RunCount = existing.RunCount
		toSave.SuccessCount = existing.SuccessCount
		toSave.ErrorCount = existing.ErrorCount
		toSave.LastRunAt = existing.LastRunAt
		toSave.CreatedAt = existing.CreatedAt
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		toSave.RunCount, toSave.SuccessCount, toSave.ErrorCount, toSave.LastRunAt = 0, 0, 0, nil
	default:
		return err
	}

	if err := writeJSON(wr.path(workflow.ID), toSave); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	workflow.CreatedAt = toSave.CreatedAt
	workflow.RunCount = toSave.RunCount
	workflow.SuccessCount = toSave.SuccessCount
	workflow.ErrorCount = toSave.ErrorCount
	workflow.LastRunAt = toSave.LastRunAt

	return nil
}

// Delete removes a workflow by its ID. Deleting a missing workflow is not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	unlock := wr.locks.lock(id)
	defer unlock()

	err := os.Remove(wr.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// ApplyRunOutcome records the run in aggregations/ and bumps the counters under the workflow lock.
func (wr *WorkflowRepository) ApplyRunOutcome(_ context.Context, workflowID, runID string, status models.RunStatus, at time.Time) (bool, error) {
	success, failure, ok := persistence.CountersDelta(status)
	if !ok {
		return false, persistence.NewRunError("ApplyRunOutcome", runID, persistence.ErrNotTerminal)
	}

	if err := validateID(runID); err != nil {
		return false, persistence.NewRunError("ApplyRunOutcome", runID, err)
	}

	if err := validateID(workflowID); err != nil {
		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, err)
	}

	unlock := wr.locks.lock(workflowID)
	defer unlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return false, err
	}

	marker := filepath.Join(wr.root, "aggregations", runID)
	if err := os.MkdirAll(filepath.Dir(marker), 0750); err != nil {
		return false, fmt.Errorf("failed to create aggregations directory: %w", err)
	}

	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to record aggregation of run %s: %w", runID, err)
	}

	_ = f.Close()

	workflow.RunCount++
	workflow.SuccessCount += success
	workflow.ErrorCount += failure

	at = at.UTC()
	if workflow.LastRunAt == nil || at.After(*workflow.LastRunAt) {
		workflow.LastRunAt = &at
	}

	if err := writeJSON(wr.path(workflowID), workflow); err != nil {
		_ = os.Remove(marker)

		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, err)
	}

	return true, nil
}
