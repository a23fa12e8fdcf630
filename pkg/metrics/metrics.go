// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of engine counters.
type Metrics interface {
	IncRunsDispatched(triggerType string)
	IncRunsFinished(status string)
	ObserveRunDuration(status string, durationSeconds float64)
	IncSteps(nodeType, status string)
	IncRetries(nodeType string)
	RunAggregated(workflowID, status string)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRunsDispatched(string)                       {}
func (Noop) IncRunsFinished(string)                         {}
func (Noop) ObserveRunDuration(string, float64)             {}
func (Noop) IncSteps(string, string)                        {}
func (Noop) IncRetries(string)                              {}
func (Noop) RunAggregated(string, string)                   {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	runsDispatched *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	steps          *prometheus.CounterVec
	retries        *prometheus.CounterVec
	aggregated     *prometheus.CounterVec
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// NewProm creates the collectors and registers them with reg.
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		runsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_dispatched_total",
			Help:      "Runs admitted by trigger type",
		}, []string{"trigger_type"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs reaching a terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration by terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Node attempts by node type and status",
		}, []string{"node_type", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Node retries by node type",
		}, []string{"node_type"}),
		aggregated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_aggregated_total",
			Help:      "Run outcomes applied to workflow counters",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		p.runsDispatched, p.runsFinished, p.runDuration, p.steps,
		p.retries, p.aggregated, p.requests, p.latency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Prom) IncRunsDispatched(triggerType string) {
	p.runsDispatched.WithLabelValues(triggerType).Inc()
}

func (p *Prom) IncRunsFinished(status string) {
	p.runsFinished.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveRunDuration(status string, durationSeconds float64) {
	p.runDuration.WithLabelValues(status).Observe(durationSeconds)
}

func (p *Prom) IncSteps(nodeType, status string) {
	p.steps.WithLabelValues(nodeType, status).Inc()
}

func (p *Prom) IncRetries(nodeType string) {
	p.retries.WithLabelValues(nodeType).Inc()
}

// RunAggregated is labelled by status only; workflow ids are unbounded.
func (p *Prom) RunAggregated(_, status string) {
	p.aggregated.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler serving the collectors of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
