// Package archive copies the run history of a workflow to object storage before it is deleted.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
)

const contentType = "application/json"

// ObjectStore is the write side of a bucket.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Record is the archived form of one run.
type Record struct {
	Run   *models.Run    `json:"run"`
	Steps []*models.Step `json:"steps"`
}

type Archiver struct {
	runs   persistence.RunRepository
	ledger *ledger.Ledger
	store  ObjectStore
	logger *slog.Logger
}

func New(runs persistence.RunRepository, ledger *ledger.Ledger, store ObjectStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		runs:   runs,
		ledger: ledger,
		store:  store,
		logger: logger.With("module", "archive"),
	}
}

func WorkflowKey(workflowID string) string {
	return fmt.Sprintf("workflows/%s/workflow.json", workflowID)
}

func RunKey(workflowID, runID string) string {
	return fmt.Sprintf("workflows/%s/runs/%s.json", workflowID, runID)
}

// ArchiveWorkflow writes the definition of wf and every stored run with its steps. It returns
// the number of archived runs.
func (a *Archiver) ArchiveWorkflow(ctx context.Context, wf *models.Workflow) (int, error) {
	if err := a.put(ctx, WorkflowKey(wf.ID), wf); err != nil {
		return 0, err
	}

	archived := 0
	opts := models.RunListOptions{Limit: persistence.MaxRunPageSize}

	for {
		page, err := a.runs.ListByWorkflow(ctx, wf.ID, opts)
		if err != nil {
			return archived, fmt.Errorf("list runs: %w", err)
		}

		for _, run := range page.Runs {
			steps, err := a.ledger.ListByRun(ctx, run.ID)
			if err != nil {
				return archived, fmt.Errorf("list steps of run %s: %w", run.ID, err)
			}

			if err := a.put(ctx, RunKey(wf.ID, run.ID), Record{Run: run, Steps: steps}); err != nil {
				return archived, err
			}

			archived++
		}

		if !page.HasNextPage {
			break
		}

		opts.Offset += len(page.Runs)
	}

	a.logger.InfoContext(ctx, "workflow archived", "workflow_id", wf.ID, "runs", archived)

	return archived, nil
}

func (a *Archiver) put(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return a.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), contentType)
}
