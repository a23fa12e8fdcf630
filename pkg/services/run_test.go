package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/executor"
	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/mocks"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type runFixture struct {
	service    *Run
	store      persistence.Persistence
	dispatcher *mocks.MockDispatcher
	canceller  *mocks.MockCanceller
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	d := &mocks.MockDispatcher{}
	c := &mocks.MockCanceller{}

	return &runFixture{
		service:    NewRun(store, ledger.New(store.StepRepository(), log.Discard()), d, c),
		store:      store,
		dispatcher: d,
		canceller:  c,
	}
}

func (f *runFixture) workflow(t *testing.T) *models.Workflow {
	t.Helper()

	wf := welcomeWorkflow()
	wf.ID = "wf-runs"
	wf.Status = models.WorkflowStatusActive
	wf.ErrorHandling = models.ErrorHandlingHalt
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func TestRun_ListRuns(t *testing.T) {
	f := newRunFixture(t)
	wf := f.workflow(t)

	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, f.store.RunRepository().Create(t.Context(), &models.Run{
			ID:          fmt.Sprintf("run-%d", i),
			WorkflowID:  wf.ID,
			Status:      models.RunStatusCompleted,
			TriggerType: models.TriggerTypeManual,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := f.service.ListRuns(t.Context(), wf.ID, models.RunListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.TotalCount)
	assert.True(t, list.HasNextPage)
	require.Len(t, list.Runs, 2)
	assert.Equal(t, "run-2", list.Runs[0].ID)

	_, err = f.service.ListRuns(t.Context(), "wf-missing", models.RunListOptions{})
	assert.True(t, IsNotFoundError(err))
}

func TestRun_FetchSteps(t *testing.T) {
	f := newRunFixture(t)
	wf := f.workflow(t)

	run := &models.Run{ID: "run-steps", WorkflowID: wf.ID, Status: models.RunStatusRunning, CreatedAt: time.Now()}
	require.NoError(t, f.store.RunRepository().Create(t.Context(), run))

	started := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, nodeID := range []string{"trigger", "wait"} {
		at := started.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.store.StepRepository().Append(t.Context(), &models.Step{
			ID:        "step-" + nodeID,
			RunID:     run.ID,
			NodeID:    nodeID,
			Status:    models.StepStatusCompleted,
			StartedAt: at,
			Attempt:   1,
			Sequence:  i + 1,
		}))
	}

	steps, err := f.service.FetchSteps(t.Context(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "trigger", steps[0].NodeID)
	assert.Equal(t, "wait", steps[1].NodeID)

	_, err = f.service.FetchSteps(t.Context(), "run-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRun_Trigger(t *testing.T) {
	f := newRunFixture(t)

	payload := json.RawMessage(`{"email":"ada@example.com"}`)
	pending := &models.Run{ID: "run-1", WorkflowID: "wf-1", Status: models.RunStatusPending}

	f.dispatcher.On("Dispatch", mock.Anything, "wf-1", models.TriggerTypeManual, payload).Return(pending, nil).Once()

	run, err := f.service.Trigger(t.Context(), "wf-1", payload)
	require.NoError(t, err)
	assert.Equal(t, pending, run)

	f.dispatcher.AssertExpectations(t)
}

func TestRun_TriggerRejections(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code string
		is   error
	}{
		{
			name: "not found",
			err:  &dispatcher.Error{Kind: dispatcher.NotFound, WorkflowID: "wf-1"},
			code: "WORKFLOW_NOT_FOUND",
			is:   ErrWorkflowNotFound,
		},
		{
			name: "draft",
			err:  &dispatcher.Error{Kind: dispatcher.NotActive, WorkflowID: "wf-1", Status: models.WorkflowStatusDraft},
			code: "WORKFLOW_NOT_ACTIVE",
			is:   ErrWorkflowNotActive,
		},
		{
			name: "mismatch",
			err:  &dispatcher.Error{Kind: dispatcher.TriggerMismatch, WorkflowID: "wf-1", TriggerType: models.TriggerTypeWebhook},
			code: "TRIGGER_MISMATCH",
			is:   ErrTriggerMismatch,
		},
		{
			name: "bad payload",
			err:  fmt.Errorf("%w: unexpected end of JSON input", dispatcher.ErrInvalidPayload),
			code: "INVALID_PAYLOAD",
			is:   ErrInvalidRequest,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newRunFixture(t)
			f.dispatcher.On("Dispatch", mock.Anything, "wf-1", models.TriggerTypeManual, mock.Anything).Return(nil, tc.err)

			_, err := f.service.Trigger(t.Context(), "wf-1", nil)
			require.Error(t, err)

			assert.Equal(t, tc.code, serviceError(t, err).Code)
			assert.ErrorIs(t, err, tc.is)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestRun_TriggerHandoffFailureReturnsRun(t *testing.T) {
	f := newRunFixture(t)

	failed := &models.Run{ID: "run-1", WorkflowID: "wf-1", Status: models.RunStatusFailed}
	f.dispatcher.On("Dispatch", mock.Anything, "wf-1", models.TriggerTypeManual, mock.Anything).
		Return(failed, fmt.Errorf("%w: broker unreachable", dispatcher.ErrHandoff))

	run, err := f.service.Trigger(t.Context(), "wf-1", nil)
	require.ErrorIs(t, err, dispatcher.ErrHandoff)
	assert.Equal(t, failed, run)
	assert.False(t, IsValidationError(err))
}

func TestRun_Cancel(t *testing.T) {
	f := newRunFixture(t)
	wf := f.workflow(t)

	run := &models.Run{ID: "run-cancel", WorkflowID: wf.ID, Status: models.RunStatusFailed, Error: "run cancelled", CreatedAt: time.Now()}
	require.NoError(t, f.store.RunRepository().Create(t.Context(), run))

	f.canceller.On("Cancel", mock.Anything, "run-cancel").Return(nil).Once()
	f.canceller.On("Cancel", mock.Anything, "run-done").Return(fmt.Errorf("%w: run-done", executor.ErrRunNotActive)).Once()
	f.canceller.On("Cancel", mock.Anything, "run-boom").Return(errors.New("storage offline")).Once()

	cancelled, err := f.service.Cancel(t.Context(), "run-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, cancelled.Status)

	_, err = f.service.Cancel(t.Context(), "run-done")
	require.ErrorIs(t, err, ErrRunNotActive)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, "RUN_NOT_ACTIVE", serviceError(t, err).Code)

	_, err = f.service.Cancel(t.Context(), "run-boom")
	require.Error(t, err)
	assert.False(t, IsConflictError(err))

	f.canceller.AssertExpectations(t)
}
