// Package persistencetest holds the behaviour every persistence.Persistence backend must share.
package persistencetest

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one test.
type Factory func(t *testing.T) persistence.Persistence

// Workflow builds a minimal valid workflow.
func Workflow(name string) *models.Workflow {
	return &models.Workflow{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   "test workflow",
		Status:        models.WorkflowStatusActive,
		TriggerType:   models.TriggerTypeManual,
		ErrorHandling: models.ErrorHandlingHalt,
		Nodes: []models.Node{
			{ID: "trigger", Type: models.NodeTypeTrigger},
			{ID: "email", Type: models.NodeTypeSendEmail, Data: json.RawMessage(`{"to":"a@b.c"}`)},
		},
		Edges: []models.Edge{{ID: "e1", Source: "trigger", Target: "email"}},
	}
}

// Run executes the shared contract against the backend produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflow save and get", func(t *testing.T) {
		p := factory(t)
		repo := p.WorkflowRepository()

		workflow := Workflow("welcome")
		workflow.TriggerType = models.TriggerTypeEvent
		workflow.TriggerConfig = json.RawMessage(`{"event_name":"contact.created"}`)
		workflow.Edges[0].Label = "next"

		require.NoError(t, repo.Save(t.Context(), workflow))
		assert.False(t, workflow.CreatedAt.IsZero())

		got, err := repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.Name, got.Name)
		assert.Equal(t, workflow.Nodes, got.Nodes)
		assert.Equal(t, workflow.Edges, got.Edges)
		assert.JSONEq(t, string(workflow.TriggerConfig), string(got.TriggerConfig))

		_, err = repo.GetByID(t.Context(), uuid.NewString())
		assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

		byTrigger, err := repo.FindByTriggerType(t.Context(), models.TriggerTypeEvent)
		require.NoError(t, err)
		require.Len(t, byTrigger, 1)
		assert.Equal(t, workflow.ID, byTrigger[0].ID)

		none, err := repo.FindByTriggerType(t.Context(), models.TriggerTypeSchedule)
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := repo.GetAll(t.Context())
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, repo.Delete(t.Context(), workflow.ID))
		_, err = repo.GetByID(t.Context(), workflow.ID)
		assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("save keeps caller timestamps and raw data", func(t *testing.T) {
		p := factory(t)
		repo := p.WorkflowRepository()

		created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		workflow := Workflow("clocked")
		workflow.CreatedAt = created
		workflow.UpdatedAt = created

		require.NoError(t, repo.Save(t.Context(), workflow))

		got, err := repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(created))
		assert.True(t, got.UpdatedAt.Equal(created))
		assert.Equal(t, `{"to":"a@b.c"}`, string(got.Nodes[1].Data))

		workflow.UpdatedAt = created.Add(time.Hour)
		require.NoError(t, repo.Save(t.Context(), workflow))

		got, err = repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(created))
		assert.True(t, got.UpdatedAt.Equal(created.Add(time.Hour)))
	})

	t.Run("save keeps counters", func(t *testing.T) {
		p := factory(t)
		repo := p.WorkflowRepository()

		workflow := Workflow("counters")
		require.NoError(t, repo.Save(t.Context(), workflow))

		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		applied, err := repo.ApplyRunOutcome(t.Context(), workflow.ID, uuid.NewString(), models.RunStatusCompleted, at)
		require.NoError(t, err)
		require.True(t, applied)

		workflow.Name = "renamed"
		workflow.RunCount = 0
		require.NoError(t, repo.Save(t.Context(), workflow))

		got, err := repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, int64(1), got.RunCount)
		assert.Equal(t, int64(1), got.SuccessCount)
		require.NotNil(t, got.LastRunAt)
		assert.True(t, at.Equal(*got.LastRunAt))
	})

	t.Run("apply run outcome is idempotent per run", func(t *testing.T) {
		p := factory(t)
		repo := p.WorkflowRepository()

		workflow := Workflow("idempotent")
		require.NoError(t, repo.Save(t.Context(), workflow))

		runID := uuid.NewString()
		at := time.Now().UTC()

		applied, err := repo.ApplyRunOutcome(t.Context(), workflow.ID, runID, models.RunStatusFailed, at)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = repo.ApplyRunOutcome(t.Context(), workflow.ID, runID, models.RunStatusFailed, at)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.RunCount)
		assert.Equal(t, int64(0), got.SuccessCount)
		assert.Equal(t, int64(1), got.ErrorCount)

		_, err = repo.ApplyRunOutcome(t.Context(), workflow.ID, uuid.NewString(), models.RunStatusRunning, at)
		assert.ErrorIs(t, err, persistence.ErrNotTerminal)

		_, err = repo.ApplyRunOutcome(t.Context(), uuid.NewString(), uuid.NewString(), models.RunStatusCompleted, at)
		assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("concurrent outcomes are not lost", func(t *testing.T) {
		p := factory(t)
		repo := p.WorkflowRepository()

		workflow := Workflow("concurrent")
		require.NoError(t, repo.Save(t.Context(), workflow))

		const runs = 20

		var wg sync.WaitGroup
		for i := range runs {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				status := models.RunStatusCompleted
				if i%4 == 0 {
					status = models.RunStatusFailed
				}

				_, err := repo.ApplyRunOutcome(t.Context(), workflow.ID, fmt.Sprintf("run-%d", i), status, time.Now().UTC())
				assert.NoError(t, err)
			}(i)
		}

		wg.Wait()

		got, err := repo.GetByID(t.Context(), workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(runs), got.RunCount)
		assert.Equal(t, int64(15), got.SuccessCount)
		assert.Equal(t, int64(5), got.ErrorCount)
	})

	t.Run("runs", func(t *testing.T) {
		p := factory(t)

		workflow := Workflow("runs")
		require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

		workflowID := workflow.ID
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		var ids []string
		for i := range 5 {
			run := &models.Run{
				ID:          uuid.NewString(),
				WorkflowID:  workflowID,
				Status:      models.RunStatusPending,
				TriggerType: models.TriggerTypeManual,
				TriggerData: json.RawMessage(`{"contact_id":"c1"}`),
				CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			}
			require.NoError(t, p.RunRepository().Create(t.Context(), run))
			ids = append(ids, run.ID)
		}

		dup := &models.Run{ID: ids[0], WorkflowID: workflowID, Status: models.RunStatusPending, CreatedAt: base}
		assert.ErrorIs(t, p.RunRepository().Create(t.Context(), dup), persistence.ErrRunAlreadyExists)

		page, err := p.RunRepository().ListByWorkflow(t.Context(), workflowID, models.RunListOptions{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.TotalCount)
		assert.True(t, page.HasNextPage)
		require.Len(t, page.Runs, 2)
		assert.Equal(t, ids[4], page.Runs[0].ID)
		assert.Equal(t, ids[3], page.Runs[1].ID)

		last, err := p.RunRepository().ListByWorkflow(t.Context(), workflowID, models.RunListOptions{Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.False(t, last.HasNextPage)
		require.Len(t, last.Runs, 1)
		assert.Equal(t, ids[0], last.Runs[0].ID)

		run, err := p.RunRepository().GetByID(t.Context(), ids[0])
		require.NoError(t, err)
		run.Start(base.Add(time.Hour))
		run.Complete(base.Add(time.Hour+time.Second), json.RawMessage(`{"sent":true}`))
		require.NoError(t, p.RunRepository().Update(t.Context(), run))

		got, err := p.RunRepository().GetByID(t.Context(), ids[0])
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, got.Status)
		assert.Equal(t, int64(1000), got.DurationMs)
		assert.JSONEq(t, `{"sent":true}`, string(got.Output))
		assert.JSONEq(t, `{"contact_id":"c1"}`, string(got.TriggerData))

		missing := &models.Run{ID: uuid.NewString(), WorkflowID: workflowID, CreatedAt: base}
		assert.ErrorIs(t, p.RunRepository().Update(t.Context(), missing), persistence.ErrRunNotFound)

		_, err = p.RunRepository().GetByID(t.Context(), uuid.NewString())
		assert.ErrorIs(t, err, persistence.ErrRunNotFound)

		count, err := p.RunRepository().CountByWorkflow(t.Context(), workflowID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)

		require.NoError(t, p.RunRepository().DeleteByWorkflow(t.Context(), workflowID))

		count, err = p.RunRepository().CountByWorkflow(t.Context(), workflowID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("steps", func(t *testing.T) {
		p := factory(t)
		repo := p.StepRepository()

		workflow := Workflow("steps")
		require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

		runID := uuid.NewString()
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, p.RunRepository().Create(t.Context(), &models.Run{
			ID:          runID,
			WorkflowID:  workflow.ID,
			Status:      models.RunStatusRunning,
			TriggerType: models.TriggerTypeManual,
			CreatedAt:   start,
		}))

		first := &models.Step{ID: uuid.NewString(), RunID: runID, NodeID: "trigger", NodeType: "trigger", Status: models.StepStatusRunning, StartedAt: start, Attempt: 1, Sequence: 1}
		second := &models.Step{ID: uuid.NewString(), RunID: runID, NodeID: "email", NodeType: "sendEmail", Status: models.StepStatusRunning, StartedAt: start, Attempt: 1, Sequence: 2}
		third := &models.Step{ID: uuid.NewString(), RunID: runID, NodeID: "email", NodeType: "sendEmail", Status: models.StepStatusRunning, StartedAt: start.Add(time.Second), Attempt: 2, Sequence: 3}

		require.NoError(t, repo.Append(t.Context(), third))
		require.NoError(t, repo.Append(t.Context(), second))
		require.NoError(t, repo.Append(t.Context(), first))

		first.Complete(start.Add(10*time.Millisecond), json.RawMessage(`{"ok":true}`))
		require.NoError(t, repo.Append(t.Context(), first))

		steps, err := repo.ListByRun(t.Context(), runID)
		require.NoError(t, err)
		require.Len(t, steps, 3)
		assert.Equal(t, first.ID, steps[0].ID)
		assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
		assert.Equal(t, int64(10), steps[0].DurationMs)
		assert.Equal(t, second.ID, steps[1].ID)
		assert.Equal(t, third.ID, steps[2].ID)

		other, err := repo.ListByRun(t.Context(), uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, other)

		require.NoError(t, repo.DeleteByRun(t.Context(), runID))

		steps, err = repo.ListByRun(t.Context(), runID)
		require.NoError(t, err)
		assert.Empty(t, steps)
	})

	t.Run("health check", func(t *testing.T) {
		p := factory(t)
		assert.NoError(t, p.HealthCheck(t.Context()))
	})
}
