package ledger_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return ledger.New(p.StepRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func step(id, nodeID string, attempt, seq int, at time.Time, status models.StepStatus) *models.Step {
	return &models.Step{
		ID:        id,
		RunID:     "run-1",
		NodeID:    nodeID,
		NodeType:  "action",
		Status:    status,
		StartedAt: at,
		Attempt:   attempt,
		Sequence:  seq,
	}
}

func TestLedger_RecordAndList(t *testing.T) {
	l := newLedger(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(t.Context(), step("s3", "email", 2, 3, base.Add(2*time.Second), models.StepStatusFailed)))
	require.NoError(t, l.Record(t.Context(), step("s1", "trigger", 1, 1, base, models.StepStatusCompleted)))
	require.NoError(t, l.Record(t.Context(), step("s2", "email", 1, 2, base.Add(time.Second), models.StepStatusFailed)))

	steps, err := l.ListByRun(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{steps[0].ID, steps[1].ID, steps[2].ID})

	latest, err := l.Latest(t.Context(), "run-1", "email")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Attempt)

	missing, err := l.Latest(t.Context(), "run-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	final, err := l.FinalSteps(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, final, 2)
	assert.Equal(t, "trigger", final[0].NodeID)
	assert.Equal(t, "s3", final[1].ID)
}

func TestLedger_RecordUpdatesInPlace(t *testing.T) {
	l := newLedger(t)
	now := time.Now().UTC()

	s := step("s1", "trigger", 1, 1, now, models.StepStatusRunning)
	require.NoError(t, l.Record(t.Context(), s))

	s.Complete(now.Add(5*time.Millisecond), nil)
	require.NoError(t, l.Record(t.Context(), s))

	steps, err := l.ListByRun(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
}

func TestLedger_RejectsInvalidSteps(t *testing.T) {
	l := newLedger(t)

	err := l.Record(t.Context(), &models.Step{ID: "s1", RunID: "run-1", NodeID: "n", Attempt: 0})
	require.ErrorIs(t, err, ledger.ErrInvalidStep)

	err = l.Record(t.Context(), &models.Step{RunID: "run-1", NodeID: "n", Attempt: 1})
	require.ErrorIs(t, err, ledger.ErrInvalidStep)
}
