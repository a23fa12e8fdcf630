package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// applyOutcomeScript guards on the per-run key and bumps the counters in one step.
// Returns -1 when the workflow does not exist, 0 when the run was already aggregated.
const applyOutcomeScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if not redis.call('SET', KEYS[3], ARGV[4], 'NX') then
	return 0
end
redis.call('HINCRBY', KEYS[2], 'run_count', 1)
redis.call('HINCRBY', KEYS[2], 'success_count', ARGV[1])
redis.call('HINCRBY', KEYS[2], 'error_count', ARGV[2])
local last = tonumber(redis.call('HGET', KEYS[2], 'last_run_at') or '0')
if tonumber(ARGV[3]) > last then
	redis.call('HSET', KEYS[2], 'last_run_at', ARGV[3])
end
return 1
`

// WorkflowRepository stores workflows as JSON documents indexed by creation time and trigger type.
type WorkflowRepository struct {
	client *redis.Client
}

// GetAll returns all workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := r.client.ZRevRange(ctx, workflowAllIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return r.load(ctx, ids)
}

// FindByTriggerType returns the workflows configured with triggerType.
func (r *WorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	ids, err := r.client.SMembers(ctx, workflowTriggerIndexKey(triggerType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows by trigger: %w", err)
	}

	return r.load(ctx, ids)
}

func (r *WorkflowRepository) load(ctx context.Context, ids []string) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.GetByID(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// GetByID returns the workflow definition merged with its counters.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	pipe := r.client.Pipeline()
	doc := pipe.Get(ctx, workflowKey(id))
	counters := pipe.HGetAll(ctx, workflowCountersKey(id))
	_, _ = pipe.Exec(ctx)

	data, err := doc.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}

	values, err := counters.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch counters of workflow %s: %w", id, err)
	}

	applyCounters(&workflow, values)

	return &workflow, nil
}

func applyCounters(workflow *models.Workflow, values map[string]string) {
	workflow.RunCount, _ = strconv.ParseInt(values["run_count"], 10, 64)
	workflow.SuccessCount, _ = strconv.ParseInt(values["success_count"], 10, 64)
	workflow.ErrorCount, _ = strconv.ParseInt(values["error_count"], 10, 64)
	workflow.LastRunAt = nil

	if ms, err := strconv.ParseInt(values["last_run_at"], 10, 64); err == nil && ms > 0 {
		at := time.UnixMilli(ms).UTC()
		workflow.LastRunAt = &at
	}
}

// Save upserts the definition document and the indexes; the counters hash is not touched.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow == nil || workflow.ID == "" {
		return persistence.NewWorkflowError("Save", "", persistence.ErrInvalidID)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = workflow.CreatedAt
	}

	if existing, err := r.GetByID(ctx, workflow.ID); err == nil {
		workflow.CreatedAt = existing.CreatedAt
		workflow.RunCount = existing.RunCount
		workflow.SuccessCount = existing.SuccessCount
		workflow.ErrorCount = existing.ErrorCount
		workflow.LastRunAt = existing.LastRunAt
	} else if !persistence.IsWorkflowNotFound(err) {
		return err
	}

	doc := *workflow
	doc.RunCount, doc.SuccessCount, doc.ErrorCount, doc.LastRunAt = 0, 0, 0, nil

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, workflowKey(workflow.ID), payload, 0)
	pipe.ZAdd(ctx, workflowAllIndexKey(), redis.Z{Score: float64(workflow.CreatedAt.UnixMilli()), Member: workflow.ID})

	for _, triggerType := range triggerTypes {
		if triggerType == workflow.TriggerType {
			pipe.SAdd(ctx, workflowTriggerIndexKey(triggerType), workflow.ID)
		} else {
			pipe.SRem(ctx, workflowTriggerIndexKey(triggerType), workflow.ID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes the workflow document, its counters and its index entries.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, workflowKey(id), workflowCountersKey(id))
	pipe.ZRem(ctx, workflowAllIndexKey(), id)

	for _, triggerType := range triggerTypes {
		pipe.SRem(ctx, workflowTriggerIndexKey(triggerType), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// ApplyRunOutcome runs applyOutcomeScript.
func (r *WorkflowRepository) ApplyRunOutcome(ctx context.Context, workflowID, runID string, status models.RunStatus, at time.Time) (bool, error) {
	success, failure, ok := persistence.CountersDelta(status)
	if !ok {
		return false, persistence.NewRunError("ApplyRunOutcome", runID, persistence.ErrNotTerminal)
	}

	res, err := r.client.Eval(ctx, applyOutcomeScript,
		[]string{workflowKey(workflowID), workflowCountersKey(workflowID), runAggregatedKey(runID)},
		success,
		failure,
		at.UnixMilli(),
		string(status),
	).Int64()
	if err != nil {
		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, err)
	}

	switch res {
	case -1:
		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, persistence.ErrWorkflowNotFound)
	case 0:
		return false, nil
	default:
		return true, nil
	}
}
