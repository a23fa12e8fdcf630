package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// RunRepository stores runs as JSON documents with a per-workflow sorted-set index.
type RunRepository struct {
	client *redis.Client
	logger *slog.Logger
}

// Create stores a new run and indexes it by workflow.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	created, err := r.client.SetNX(ctx, runKey(run.ID), payload, 0).Result()
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	if !created {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	err = r.client.ZAdd(ctx, runIndexKey(run.WorkflowID), redis.Z{
		Score:  float64(run.CreatedAt.UnixMilli()),
		Member: run.ID,
	}).Err()
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

// Update overwrites an existing run document.
func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	updated, err := r.client.SetXX(ctx, runKey(run.ID), payload, 0).Result()
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	if !updated {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	return nil
}

// GetByID returns a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	data, err := r.client.Get(ctx, runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}

	return &run, nil
}

// ListByWorkflow returns a page of runs of workflowID, newest first.
func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error) {
	opts = persistence.NormalizeRunListOptions(opts)

	total, err := r.CountByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	start := int64(opts.Offset)
	stop := start + int64(opts.Limit) - 1

	ids, err := r.client.ZRevRange(ctx, runIndexKey(workflowID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.Run, 0, len(ids))

	if len(ids) > 0 {
		pipe := r.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(ids))

		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, runKey(id))
		}

		_, _ = pipe.Exec(ctx)

		for i, cmd := range cmds {
			data, err := cmd.Bytes()
			if err != nil {
				r.logger.WarnContext(ctx, "skipping unreadable run", "run_id", ids[i], "error", err)

				continue
			}

			var run models.Run
			if err := json.Unmarshal(data, &run); err != nil {
				return nil, fmt.Errorf("unmarshal run: %w", err)
			}

			runs = append(runs, &run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return &models.RunList{
		Runs:        runs,
		TotalCount:  total,
		HasNextPage: stop+1 < total,
	}, nil
}

// CountByWorkflow returns the number of runs of workflowID.
func (r *RunRepository) CountByWorkflow(ctx context.Context, workflowID string) (int64, error) {
	count, err := r.client.ZCard(ctx, runIndexKey(workflowID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}

	return count, nil
}

// DeleteByWorkflow removes every run of workflowID together with its steps.
func (r *RunRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	ids, err := r.client.ZRange(ctx, runIndexKey(workflowID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, runKey(id), runStepsKey(id))
	}

	pipe.Del(ctx, runIndexKey(workflowID))

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowError("DeleteRuns", workflowID, err)
	}

	return nil
}
