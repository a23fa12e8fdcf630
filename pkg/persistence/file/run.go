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

// RunRepository handles run-related file operations.
type RunRepository struct {
	root string
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) path(id string) string {
	return filepath.Join(rr.root, "runs", id+".json")
}

// Create stores a new run; it fails if the run ID is already taken.
func (rr *RunRepository) Create(_ context.Context, run *models.Run) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	if err := writeJSON(rr.path(run.ID), run); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

// Update overwrites an existing run.
func (rr *RunRepository) Update(_ context.Context, run *models.Run) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	if _, err := os.Stat(rr.path(run.ID)); os.IsNotExist(err) {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	if err := writeJSON(rr.path(run.ID), run); err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	var run models.Run
	if err := readJSON(rr.path(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) byWorkflow(workflowID string) ([]*models.Run, error) {
	files, err := listJSON(filepath.Join(rr.root, "runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0)

	for _, file := range files {
		var run models.Run
		if err := readJSON(file, &run); err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load run %s: %w", filepath.Base(file), err)
		}

		if run.WorkflowID == workflowID {
			runs = append(runs, &run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// ListByWorkflow returns a page of runs of workflowID, newest first.
func (rr *RunRepository) ListByWorkflow(_ context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error) {
	opts = persistence.NormalizeRunListOptions(opts)

	runs, err := rr.byWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	total := len(runs)
	if opts.Offset >= total {
		return &models.RunList{Runs: make([]*models.Run, 0), TotalCount: int64(total)}, nil
	}

	end := min(opts.Offset+opts.Limit, total)

	return &models.RunList{
		Runs:        runs[opts.Offset:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

// CountByWorkflow returns the number of stored runs of workflowID.
func (rr *RunRepository) CountByWorkflow(_ context.Context, workflowID string) (int64, error) {
	runs, err := rr.byWorkflow(workflowID)
	if err != nil {
		return 0, err
	}

	return int64(len(runs)), nil
}

// DeleteByWorkflow removes every run of workflowID.
func (rr *RunRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	runs, err := rr.byWorkflow(workflowID)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if err := os.Remove(rr.path(run.ID)); err != nil && !os.IsNotExist(err) {
			return persistence.NewRunError("DeleteByWorkflow", run.ID, err)
		}
	}

	return nil
}
