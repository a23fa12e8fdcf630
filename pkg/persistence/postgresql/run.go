package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/lib/pq"
)

const runColumns = `
	id
  , workflow_id
  , status
  , trigger_type
  , trigger_data
  , started_at
  , completed_at
  , duration_ms
  , output
  , error
  , created_at
`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, trigger_type, trigger_data, started_at,
			completed_at, duration_ms, output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.WorkflowID,
		run.Status,
		run.TriggerType,
		nullJSON(run.TriggerData),
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
		nullJSON(run.Output),
		run.Error,
		run.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

// Update writes the mutable columns of an existing run.
func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = $2,
			started_at = $3,
			completed_at = $4,
			duration_ms = $5,
			output = $6,
			error = $7
		WHERE id = $1
	`,
		run.ID,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
		nullJSON(run.Output),
		run.Error,
	)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	return nil
}

// GetByID returns a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// ListByWorkflow returns a page of runs of workflowID, newest first.
func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error) {
	opts = persistence.NormalizeRunListOptions(opts)

	total, err := r.CountByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE workflow_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, workflowID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0, opts.Limit)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return &models.RunList{
		Runs:        runs,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(runs)) < total,
	}, nil
}

// CountByWorkflow returns the number of runs of workflowID.
func (r *RunRepository) CountByWorkflow(ctx context.Context, workflowID string) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE workflow_id = $1`, workflowID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}

	return count, nil
}

// DeleteByWorkflow removes the runs of workflowID; their steps cascade.
func (r *RunRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("DeleteRuns", workflowID, err)
	}

	return nil
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run         models.Run
		triggerData []byte
		output      []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Status,
		&run.TriggerType,
		&triggerData,
		&startedAt,
		&completedAt,
		&run.DurationMs,
		&output,
		&run.Error,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerData) > 0 {
		run.TriggerData = json.RawMessage(triggerData)
	}

	if len(output) > 0 {
		run.Output = json.RawMessage(output)
	}

	run.StartedAt = nullTime(startedAt)
	run.CompletedAt = nullTime(completedAt)

	return &run, nil
}
