package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// StepRepository keeps the steps of a run in one hash keyed by step ID.
type StepRepository struct {
	client *redis.Client
}

// Append writes the step, replacing a previous record with the same ID.
func (r *StepRepository) Append(ctx context.Context, step *models.Step) error {
	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}

	if err := r.client.HSet(ctx, runStepsKey(step.RunID), step.ID, payload).Err(); err != nil {
		return persistence.NewRunError("AppendStep", step.RunID, err)
	}

	return nil
}

// ListByRun returns the steps of runID in execution order.
func (r *StepRepository) ListByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	values, err := r.client.HVals(ctx, runStepsKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of run %s: %w", runID, err)
	}

	steps := make([]*models.Step, 0, len(values))

	for _, value := range values {
		var step models.Step
		if err := json.Unmarshal([]byte(value), &step); err != nil {
			return nil, fmt.Errorf("unmarshal step: %w", err)
		}

		steps = append(steps, &step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Before(steps[j])
	})

	return steps, nil
}

// DeleteByRun removes the step history of runID.
func (r *StepRepository) DeleteByRun(ctx context.Context, runID string) error {
	if err := r.client.Del(ctx, runStepsKey(runID)).Err(); err != nil {
		return persistence.NewRunError("DeleteSteps", runID, err)
	}

	return nil
}
