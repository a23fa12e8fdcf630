package schedule_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/mocks"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/dukex/automata/pkg/receivers/schedule"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu   sync.Mutex
	runs []*models.Run
}

func (c *capture) Submit(_ context.Context, run *models.Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs = append(c.runs, run)

	return nil
}

type fixture struct {
	store    persistence.Persistence
	handoff  *capture
	clock    *clockwork.FakeClock
	receiver *schedule.Receiver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	handoff := &capture{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	agg := aggregator.New(store.WorkflowRepository(), log.Discard())
	d := dispatcher.New(store, handoff, agg, log.Discard(), dispatcher.WithClock(clock))

	return &fixture{
		store:    store,
		handoff:  handoff,
		clock:    clock,
		receiver: schedule.NewReceiver(d, store.WorkflowRepository(), log.Discard(), schedule.WithClock(clock), schedule.WithRefreshInterval(time.Minute)),
	}
}

func (f *fixture) save(t *testing.T, id string, status models.WorkflowStatus, config string) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		ID:            id,
		Name:          "weekly digest " + id,
		Status:        status,
		TriggerType:   models.TriggerTypeSchedule,
		TriggerConfig: json.RawMessage(config),
		ErrorHandling: models.ErrorHandlingContinue,
		Nodes:         []models.Node{{ID: "trigger", Type: models.NodeTypeTrigger}},
	}
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func TestRefresh_SchedulesActiveWorkflows(t *testing.T) {
	f := newFixture(t)
	f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"0 9 * * MON","timezone":"America/Sao_Paulo"}`)
	f.save(t, "nightly", models.WorkflowStatusActive, `{"cron":"@daily"}`)
	f.save(t, "paused", models.WorkflowStatusPaused, `{"cron":"@hourly"}`)
	f.save(t, "broken", models.WorkflowStatusActive, `{"cron":"every monday"}`)

	require.NoError(t, f.receiver.Refresh(t.Context()))

	assert.Equal(t, map[string]string{
		"digest":  "CRON_TZ=America/Sao_Paulo 0 9 * * MON",
		"nightly": "@daily",
	}, f.receiver.Scheduled())
}

func TestRefresh_ReconcilesChanges(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"@daily"}`)
	f.save(t, "nightly", models.WorkflowStatusActive, `{"cron":"@daily"}`)

	require.NoError(t, f.receiver.Refresh(t.Context()))
	require.Len(t, f.receiver.Scheduled(), 2)

	wf.TriggerConfig = json.RawMessage(`{"cron":"@weekly"}`)
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), wf))
	require.NoError(t, f.store.WorkflowRepository().Delete(t.Context(), "nightly"))

	require.NoError(t, f.receiver.Refresh(t.Context()))

	assert.Equal(t, map[string]string{"digest": "@weekly"}, f.receiver.Scheduled())
}

func TestFire_DispatchesScheduleRun(t *testing.T) {
	f := newFixture(t)
	f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"0 9 * * MON","timezone":"UTC"}`)

	run, err := f.receiver.Fire(t.Context(), "digest", models.ScheduleTriggerConfig{Cron: "0 9 * * MON", Timezone: "UTC"})
	require.NoError(t, err)

	assert.Equal(t, models.TriggerTypeSchedule, run.TriggerType)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.JSONEq(t, `{"scheduled_at":"2026-03-02T09:00:00Z","cron":"0 9 * * MON","timezone":"UTC"}`, string(run.TriggerData))
	require.Len(t, f.handoff.runs, 1)
}

func TestFire_ForgetsInactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"@daily"}`)

	require.NoError(t, f.receiver.Refresh(t.Context()))
	require.Len(t, f.receiver.Scheduled(), 1)

	wf.Status = models.WorkflowStatusPaused
	require.NoError(t, f.store.WorkflowRepository().Save(t.Context(), wf))

	_, err := f.receiver.Fire(t.Context(), "digest", models.ScheduleTriggerConfig{Cron: "@daily"})
	require.Error(t, err)
	assert.True(t, dispatcher.IsKind(err, dispatcher.NotActive))
	assert.Empty(t, f.receiver.Scheduled())
	assert.Empty(t, f.handoff.runs)
}

func TestStart_RefreshesOnInterval(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.receiver.Start(t.Context()))
	t.Cleanup(func() { _ = f.receiver.Stop(context.Background()) })

	assert.Empty(t, f.receiver.Scheduled())

	f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"@hourly"}`)

	require.NoError(t, f.clock.BlockUntilContext(t.Context(), 1))
	f.clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		return len(f.receiver.Scheduled()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribe_RefreshesOnWorkflowEvents(t *testing.T) {
	f := newFixture(t)
	bus := &mocks.MockEventBus{}

	handlers := map[events.EventType]eventbus.EventHandler{}
	bus.On("Handle", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		handlers[args.Get(0).(events.EventType)] = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	require.NoError(t, f.receiver.Subscribe(bus))
	require.Len(t, handlers, 3)

	f.save(t, "digest", models.WorkflowStatusActive, `{"cron":"@hourly"}`)

	require.NoError(t, handlers[events.WorkflowActivatedEvent](t.Context(), &events.WorkflowActivated{}))
	assert.Len(t, f.receiver.Scheduled(), 1)

	require.NoError(t, f.store.WorkflowRepository().Delete(t.Context(), "digest"))
	require.NoError(t, handlers[events.WorkflowDeletedEvent](t.Context(), &events.WorkflowDeleted{}))
	assert.Empty(t, f.receiver.Scheduled())
}
