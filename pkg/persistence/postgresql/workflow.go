package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

const workflowColumns = `
	id
  , name
  , description
  , category
  , is_template
  , status
  , trigger_type
  , trigger_config
  , nodes
  , edges
  , error_handling
  , max_retries
  , run_count
  , success_count
  , error_count
  , last_run_at
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
}

// FindByTriggerType returns the workflows configured with triggerType.
func (r *WorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE trigger_type = $1 ORDER BY created_at DESC`, triggerType)
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow definition. Counter columns are left untouched on update.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = workflow.CreatedAt
	}

	nodesJSON, err := json.Marshal(nonNil(workflow.Nodes))
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(nonNil(workflow.Edges))
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, category, is_template, status, trigger_type,
			trigger_config, nodes, edges, error_handling, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			is_template = EXCLUDED.is_template,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			error_handling = EXCLUDED.error_handling,
			max_retries = EXCLUDED.max_retries,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, run_count, success_count, error_count, last_run_at
	`

	var lastRunAt sql.NullTime

	err = r.db.QueryRowContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Category,
		workflow.IsTemplate,
		workflow.Status,
		workflow.TriggerType,
		nullJSON(workflow.TriggerConfig),
		nodesJSON,
		edgesJSON,
		workflow.ErrorHandling,
		workflow.MaxRetries,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	).Scan(&workflow.CreatedAt, &workflow.RunCount, &workflow.SuccessCount, &workflow.ErrorCount, &lastRunAt)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	workflow.LastRunAt = nullTime(lastRunAt)

	return nil
}

// Delete removes a workflow. Runs must be removed first.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// ApplyRunOutcome inserts the run into run_aggregations and bumps the counters in one
// transaction. A conflicting insert means the run was already aggregated.
func (r *WorkflowRepository) ApplyRunOutcome(ctx context.Context, workflowID, runID string, status models.RunStatus, at time.Time) (applied bool, err error) {
	success, failure, ok := persistence.CountersDelta(status)
	if !ok {
		return false, persistence.NewRunError("ApplyRunOutcome", runID, persistence.ErrNotTerminal)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO run_aggregations (run_id, workflow_id, status, aggregated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, workflowID, status, at.UTC())
	if err != nil {
		return false, persistence.NewRunError("ApplyRunOutcome", runID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if inserted == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE workflows SET
			run_count = run_count + 1,
			success_count = success_count + $2,
			error_count = error_count + $3,
			last_run_at = GREATEST(COALESCE(last_run_at, $4), $4)
		WHERE id = $1
	`, workflowID, success, failure, at.UTC())
	if err != nil {
		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if updated == 0 {
		return false, persistence.NewWorkflowError("ApplyRunOutcome", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit counters: %w", err)
	}

	return true, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		triggerConfig []byte
		nodesJSON     []byte
		edgesJSON     []byte
		lastRunAt     sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Category,
		&workflow.IsTemplate,
		&workflow.Status,
		&workflow.TriggerType,
		&triggerConfig,
		&nodesJSON,
		&edgesJSON,
		&workflow.ErrorHandling,
		&workflow.MaxRetries,
		&workflow.RunCount,
		&workflow.SuccessCount,
		&workflow.ErrorCount,
		&lastRunAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConfig) > 0 {
		workflow.TriggerConfig = json.RawMessage(triggerConfig)
	}

	if err := json.Unmarshal(nodesJSON, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	workflow.LastRunAt = nullTime(lastRunAt)

	return &workflow, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}
