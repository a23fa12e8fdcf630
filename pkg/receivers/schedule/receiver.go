// Package schedule fires schedule-triggered workflows from their cron expressions.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// DefaultRefreshInterval is how often the cron table is reconciled with stored workflows.
const DefaultRefreshInterval = time.Minute

// Dispatcher admits schedule triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowID string, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error)
}

type entry struct {
	spec string
	id   cron.EntryID
}

// Receiver keeps one cron entry per active schedule-triggered workflow.
type Receiver struct {
	dispatcher Dispatcher
	workflows  persistence.WorkflowRepository
	logger     *slog.Logger
	clock      clockwork.Clock
	interval   time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]entry
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Receiver)

func WithRefreshInterval(d time.Duration) Option {
	return func(r *Receiver) { r.interval = d }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Receiver) { r.clock = clock }
}

func NewReceiver(d Dispatcher, workflows persistence.WorkflowRepository, logger *slog.Logger, opts ...Option) *Receiver {
	logger = logger.With("module", "schedule_receiver")

	r := &Receiver{
		dispatcher: d,
		workflows:  workflows,
		logger:     logger,
		clock:      clockwork.NewRealClock(),
		interval:   DefaultRefreshInterval,
		entries:    make(map[string]entry),
	}

	for _, opt := range opts {
		opt(r)
	}

	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	r.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
	)

	return r
}

// cronSpec prefixes the expression with its timezone so robfig/cron evaluates it there.
func cronSpec(cfg models.ScheduleTriggerConfig) string {
	if cfg.Timezone == "" {
		return cfg.Cron
	}

	return "CRON_TZ=" + cfg.Timezone + " " + cfg.Cron
}

// Refresh reconciles the cron table with the active schedule workflows in storage.
func (r *Receiver) Refresh(ctx context.Context) error {
	candidates, err := r.workflows.FindByTriggerType(ctx, models.TriggerTypeSchedule)
	if err != nil {
		return fmt.Errorf("find schedule workflows: %w", err)
	}

	wanted := make(map[string]models.ScheduleTriggerConfig, len(candidates))

	for _, wf := range candidates {
		if wf.Status != models.WorkflowStatusActive {
			continue
		}

		cfg, err := wf.ScheduleTrigger()
		if err != nil {
			r.logger.WarnContext(ctx, "skipping workflow with invalid schedule", "workflow_id", wf.ID, "error", err)

			continue
		}

		wanted[wf.ID] = cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		cfg, keep := wanted[id]
		if keep && cronSpec(cfg) == e.spec {
			delete(wanted, id)

			continue
		}

		r.cron.Remove(e.id)
		delete(r.entries, id)
		r.logger.InfoContext(ctx, "schedule removed", "workflow_id", id)
	}

	for id, cfg := range wanted {
		spec := cronSpec(cfg)

		entryID, err := r.cron.AddFunc(spec, func() { r.fire(id, cfg) })
		if err != nil {
			r.logger.WarnContext(ctx, "failed to schedule workflow", "workflow_id", id, "cron", spec, "error", err)

			continue
		}

		r.entries[id] = entry{spec: spec, id: entryID}
		r.logger.InfoContext(ctx, "schedule added", "workflow_id", id, "cron", spec)
	}

	return nil
}

// Scheduled returns the cron spec of every scheduled workflow keyed by workflow ID.
func (r *Receiver) Scheduled() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.spec
	}

	return out
}

func (r *Receiver) fire(workflowID string, cfg models.ScheduleTriggerConfig) {
	if _, err := r.Fire(context.Background(), workflowID, cfg); err != nil {
		r.logger.Warn("scheduled trigger not admitted", "workflow_id", workflowID, "error", err)
	}
}

// Fire admits one schedule trigger for workflowID.
func (r *Receiver) Fire(ctx context.Context, workflowID string, cfg models.ScheduleTriggerConfig) (*models.Run, error) {
	data, err := json.Marshal(map[string]any{
		"scheduled_at": r.clock.Now().UTC().Format(time.RFC3339),
		"cron":         cfg.Cron,
		"timezone":     cfg.Timezone,
	})
	if err != nil {
		return nil, err
	}

	run, err := r.dispatcher.Dispatch(ctx, workflowID, models.TriggerTypeSchedule, data)
	if err != nil {
		if dispatcher.IsKind(err, dispatcher.NotActive) || dispatcher.IsKind(err, dispatcher.NotFound) {
			r.forget(workflowID)
		}

		return nil, err
	}

	r.logger.DebugContext(ctx, "scheduled trigger fired", "workflow_id", workflowID, "run_id", run.ID)

	return run, nil
}

func (r *Receiver) forget(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[workflowID]; ok {
		r.cron.Remove(e.id)
		delete(r.entries, workflowID)
	}
}

// Subscribe refreshes the cron table whenever a workflow is activated, deactivated or deleted.
func (r *Receiver) Subscribe(bus eventbus.EventSubscriber) error {
	refresh := func(ctx context.Context, _ any) error {
		return r.Refresh(ctx)
	}

	for _, t := range []events.EventType{
		events.WorkflowActivatedEvent,
		events.WorkflowDeactivatedEvent,
		events.WorkflowDeletedEvent,
	} {
		if err := bus.Handle(t, refresh); err != nil {
			return err
		}
	}

	return nil
}

// Start loads the schedules, starts the cron scheduler and refreshes on every interval until
// ctx is done or Stop is called.
func (r *Receiver) Start(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	r.cron.Start()
	r.logger.InfoContext(ctx, "schedule receiver started", "workflows", len(r.Scheduled()))

	go func() {
		defer close(r.done)

		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := r.Refresh(ctx); err != nil {
					r.logger.ErrorContext(ctx, "schedule refresh failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop halts the scheduler and waits for running triggers or ctx.
func (r *Receiver) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.InfoContext(ctx, "schedule receiver stopped")

	return nil
}
