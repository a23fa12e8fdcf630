package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

// StepRepository handles step-related file operations.
type StepRepository struct {
	root string
}

// NewStepRepository creates a new step repository.
func NewStepRepository(root string) *StepRepository {
	return &StepRepository{root: root}
}

func (sr *StepRepository) dir(runID string) string {
	return filepath.Join(sr.root, "steps", runID)
}

// Append writes the step, replacing a previous record with the same ID.
func (sr *StepRepository) Append(_ context.Context, step *models.Step) error {
	if err := validateID(step.RunID); err != nil {
		return persistence.NewRunError("AppendStep", step.RunID, err)
	}

	if err := validateID(step.ID); err != nil {
		return persistence.NewRunError("AppendStep", step.RunID, err)
	}

	if err := writeJSON(filepath.Join(sr.dir(step.RunID), step.ID+".json"), step); err != nil {
		return persistence.NewRunError("AppendStep", step.RunID, err)
	}

	return nil
}

// ListByRun returns the steps of runID in execution order.
func (sr *StepRepository) ListByRun(_ context.Context, runID string) ([]*models.Step, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("ListSteps", runID, err)
	}

	files, err := listJSON(sr.dir(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of run %s: %w", runID, err)
	}

	steps := make([]*models.Step, 0, len(files))

	for _, file := range files {
		var step models.Step
		if err := readJSON(file, &step); err != nil {
			return nil, fmt.Errorf("failed to load step %s: %w", filepath.Base(file), err)
		}

		steps = append(steps, &step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Before(steps[j])
	})

	return steps, nil
}

// DeleteByRun removes the step history of runID.
func (sr *StepRepository) DeleteByRun(_ context.Context, runID string) error {
	if err := validateID(runID); err != nil {
		return persistence.NewRunError("DeleteSteps", runID, err)
	}

	if err := os.RemoveAll(sr.dir(runID)); err != nil {
		return persistence.NewRunError("DeleteSteps", runID, err)
	}

	return nil
}
