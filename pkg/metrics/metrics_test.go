package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.IncRunsDispatched("manual")
	m.IncRunsFinished("completed")
	m.ObserveRunDuration("completed", 1)
	m.IncSteps("trigger", "completed")
	m.IncRetries("sendEmail")
	m.RunAggregated("wf", "completed")
	m.ObserveRequest("GET", "/", "200", 0.1)
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewProm("automata", reg)
	require.NoError(t, err)

	m.IncRunsDispatched("manual")
	m.IncRunsDispatched("manual")
	m.IncRunsFinished("failed")
	m.IncSteps("sendEmail", "failed")
	m.IncRetries("sendEmail")
	m.RunAggregated("wf-1", "failed")
	m.ObserveRunDuration("failed", 0.5)
	m.ObserveRequest("GET", "/api/workflows", "200", 0.01)

	assert.InDelta(t, 2, testutil.ToFloat64(m.runsDispatched.WithLabelValues("manual")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsFinished.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.steps.WithLabelValues("sendEmail", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.aggregated.WithLabelValues("failed")), 0)

	_, err = NewProm("automata", reg)
	require.Error(t, err, "duplicate registration")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `automata_runs_dispatched_total{trigger_type="manual"} 2`)
}
