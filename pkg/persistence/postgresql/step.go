package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

// StepRepository handles step-related database operations.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// Append upserts a step by ID.
func (r *StepRepository) Append(ctx context.Context, step *models.Step) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO steps (id, run_id, node_id, node_type, status, started_at, completed_at,
			duration_ms, output, error, attempt, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			output = EXCLUDED.output,
			error = EXCLUDED.error
	`,
		step.ID,
		step.RunID,
		step.NodeID,
		step.NodeType,
		step.Status,
		step.StartedAt,
		step.CompletedAt,
		step.DurationMs,
		nullJSON(step.Output),
		step.Error,
		step.Attempt,
		step.Sequence,
	)
	if err != nil {
		return persistence.NewRunError("AppendStep", step.RunID, err)
	}

	return nil
}

// ListByRun returns the steps of runID in execution order.
func (r *StepRepository) ListByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, node_type, status, started_at, completed_at, duration_ms,
			output, error, attempt, sequence
		FROM steps
		WHERE run_id = $1
		ORDER BY started_at, sequence
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step        models.Step
			output      []byte
			completedAt sql.NullTime
		)

		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.NodeID,
			&step.NodeType,
			&step.Status,
			&step.StartedAt,
			&completedAt,
			&step.DurationMs,
			&output,
			&step.Error,
			&step.Attempt,
			&step.Sequence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		if len(output) > 0 {
			step.Output = json.RawMessage(output)
		}

		step.CompletedAt = nullTime(completedAt)
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// DeleteByRun removes the step history of runID.
func (r *StepRepository) DeleteByRun(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM steps WHERE run_id = $1`, runID)
	if err != nil {
		return persistence.NewRunError("DeleteSteps", runID, err)
	}

	return nil
}
