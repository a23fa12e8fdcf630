package web

import (
	"errors"
	"strconv"
	"time"

	"github.com/dukex/automata/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/utils/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Mounter adds routes of another component, e.g. the webhook receiver, to the API app.
type Mounter interface {
	Mount(router fiber.Router)
}

type config struct {
	metrics  metrics.Metrics
	gatherer prometheus.Gatherer
	mounts   []Mounter
	logging  bool
}

type Option func(*config)

// WithMetrics records request metrics and serves gatherer on /metrics.
func WithMetrics(m metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(c *config) {
		c.metrics = m
		c.gatherer = gatherer
	}
}

func WithMount(m Mounter) Option {
	return func(c *config) { c.mounts = append(c.mounts, m) }
}

// WithoutRequestLog disables the access log, mostly for tests.
func WithoutRequestLog() Option {
	return func(c *config) { c.logging = false }
}

// NewApp builds the REST API.
func NewApp(handlers *APIHandlers, opts ...Option) *fiber.App {
	cfg := &config{metrics: metrics.Noop{}, logging: true}
	for _, opt := range opts {
		opt(cfg)
	}

	app := fiber.New()
	app.Use(cors.New())

	if cfg.logging {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Use(RequestMetrics(cfg.metrics))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Automata API")
	})

	app.Get("/health", handlers.HealthCheck)

	if cfg.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(cfg.gatherer)))
	}

	app.Get("/node-types", handlers.GetNodeTypes)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Patch("/:id/status", handlers.UpdateWorkflowStatus)
	w.Get("/:id/counters", handlers.GetWorkflowCounters)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/runs", handlers.GetWorkflowRuns)

	w.Post("/:id/nodes", handlers.CreateWorkflowNode)
	w.Get("/:id/nodes/:nodeId", handlers.GetWorkflowNode)
	w.Patch("/:id/nodes/:nodeId", handlers.UpdateWorkflowNode)
	w.Delete("/:id/nodes/:nodeId", handlers.DeleteWorkflowNode)

	r := app.Group("/runs")
	r.Get("/:runId", handlers.GetRun)
	r.Get("/:runId/steps", handlers.GetRunSteps)
	r.Post("/:runId/cancel", handlers.CancelRun)

	for _, m := range cfg.mounts {
		m.Mount(app)
	}

	return app
}

// RequestMetrics observes every request by method, route pattern and status.
func RequestMetrics(m metrics.Metrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError

			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		// Method and route alias fiber's reused buffers; labels outlive the request.
		m.ObserveRequest(utils.CopyString(c.Method()), utils.CopyString(c.Route().Path), strconv.Itoa(status), time.Since(start).Seconds())

		return err
	}
}
