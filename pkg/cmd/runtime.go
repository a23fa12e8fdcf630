package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/archive"
	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/executor"
	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/metrics"
	"github.com/dukex/automata/pkg/otelhelper"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/receivers/webhook"
	"github.com/dukex/automata/pkg/services"
	"github.com/dukex/automata/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Handoff modes of the dispatcher.
const (
	// HandoffLocal executes runs in the admitting process.
	HandoffLocal = "local"
	// HandoffBus publishes run.requested for a worker process.
	HandoffBus = "bus"
)

// RuntimeConfig gathers the settings shared by the serve, worker and run commands.
type RuntimeConfig struct {
	ServiceName   string
	DatabaseURL   string
	EventBus      string
	KafkaBrokers  []string
	Handoff       string
	NodeTimeout   time.Duration
	Backoff       executor.BackoffConfig
	DeletePolicy  string
	Archive       archive.Config
	Collaborators CollaboratorConfig
	Tracing       bool
}

// Runtime is the assembled engine: storage, bus, registry, executor, dispatcher and services.
type Runtime struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *actions.Registry
	Ledger      *ledger.Ledger
	Aggregator  *aggregator.Aggregator
	Engine      *executor.Engine
	Dispatcher  *dispatcher.Dispatcher
	Workflows   *services.Workflow
	Runs        *services.Run
	Nodes       *services.Node
	Metrics     *metrics.Prom
	Gatherer    *prometheus.Registry

	closers []func(ctx context.Context) error
}

// NewRuntime wires every component from cfg. The caller must Close the runtime.
func NewRuntime(ctx context.Context, cfg RuntimeConfig, logger *slog.Logger) (rt *Runtime, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "automata"
	}

	policy, err := services.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return nil, err
	}

	rt = &Runtime{Logger: logger, Gatherer: prometheus.NewRegistry()}

	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt.Metrics, err = metrics.NewProm(cfg.ServiceName, rt.Gatherer)
	if err != nil {
		return rt, fmt.Errorf("register metrics: %w", err)
	}

	tracer := otelhelper.NoopTracer()

	if cfg.Tracing {
		t, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName)
		if err != nil {
			return rt, fmt.Errorf("initialize tracer: %w", err)
		}

		tracer = t
		rt.closers = append(rt.closers, shutdown)
	}

	rt.Persistence, err = NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return rt, fmt.Errorf("open persistence: %w", err)
	}

	rt.closers = append(rt.closers, rt.Persistence.Close)

	rt.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		return rt, err
	}

	rt.closers = append(rt.closers, func(context.Context) error { return rt.EventBus.Close() })

	rt.Registry, err = NewRegistry(logger, cfg.Collaborators)
	if err != nil {
		return rt, fmt.Errorf("register nodes: %w", err)
	}

	rt.Ledger = ledger.New(rt.Persistence.StepRepository(), logger)
	rt.Aggregator = aggregator.New(rt.Persistence.WorkflowRepository(), logger, aggregator.WithRecorder(rt.Metrics))

	backoff := cfg.Backoff
	if backoff == (executor.BackoffConfig{}) {
		backoff = executor.DefaultBackoff()
	}

	engineOpts := []executor.Option{
		executor.WithMetrics(rt.Metrics),
		executor.WithPublisher(rt.EventBus),
		executor.WithTracer(tracer),
		executor.WithBackoff(backoff),
	}

	if cfg.NodeTimeout > 0 {
		engineOpts = append(engineOpts, executor.WithNodeTimeout(cfg.NodeTimeout))
	}

	rt.Engine = executor.New(rt.Persistence, rt.Ledger, rt.Aggregator, rt.Registry, logger, engineOpts...)
	rt.closers = append(rt.closers, rt.Engine.Close)

	var (
		handoff   dispatcher.Handoff = rt.Engine
		canceller services.Canceller = rt.Engine
	)

	switch cfg.Handoff {
	case "", HandoffLocal:
	case HandoffBus:
		handoff = dispatcher.NewBusHandoff(rt.EventBus)
		canceller = executor.NewBusCanceller(rt.Engine, rt.EventBus)
	default:
		return rt, fmt.Errorf("unknown handoff mode %q", cfg.Handoff)
	}

	rt.Dispatcher = dispatcher.New(rt.Persistence, handoff, rt.Aggregator, logger, dispatcher.WithMetrics(rt.Metrics))

	workflowOpts := []services.WorkflowOption{
		services.WithNodeValidator(rt.Registry),
		services.WithPublisher(rt.EventBus),
		services.WithDeletePolicy(policy),
		services.WithLogger(logger.With("module", "workflow_service")),
	}

	if cfg.Archive.Endpoint != "" {
		store, err := archive.NewMinioStore(cfg.Archive)
		if err != nil {
			return rt, err
		}

		if err := store.EnsureBucket(ctx); err != nil {
			return rt, fmt.Errorf("prepare archive bucket: %w", err)
		}

		archiver := archive.New(rt.Persistence.RunRepository(), rt.Ledger, store, logger)
		workflowOpts = append(workflowOpts, services.WithArchiver(archiver))
	}

	rt.Workflows = services.NewWorkflow(rt.Persistence, workflowOpts...)
	rt.Runs = services.NewRun(rt.Persistence, rt.Ledger, rt.Dispatcher, canceller)
	rt.Nodes = services.NewNode(rt.Workflows)

	return rt, nil
}

// API builds the REST app with the webhook receiver mounted under /hooks.
func (rt *Runtime) API(opts ...web.Option) *fiber.App {
	handlers := web.NewAPIHandlers(
		rt.Workflows,
		rt.Runs,
		rt.Nodes,
		validator.New(validator.WithRequiredStructEnabled()),
		rt.Registry,
	)

	opts = append([]web.Option{
		web.WithMetrics(rt.Metrics, rt.Gatherer),
		web.WithMount(webhook.NewReceiver(rt.Dispatcher, rt.Logger)),
	}, opts...)

	return web.NewApp(handlers, opts...)
}

// Close releases components in reverse order of creation.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	rt.closers = nil

	return errors.Join(errs...)
}
