//go:build integration

package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/executor"
	"github.com/dukex/automata/pkg/ledger"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/nodes"
	"github.com/dukex/automata/pkg/persistence/postgresql"
	"github.com/dukex/automata/pkg/services"
	"github.com/dukex/automata/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupIntegrationApp(t *testing.T) *testAPI {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("automata_api"),
		postgres.WithUsername("automata"),
		postgres.WithPassword("automata"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := log.Discard()

	store, err := postgresql.NewPersistence(ctx, logger, dbURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	registry := actions.NewRegistry(logger)
	require.NoError(t, nodes.Register(registry, nodes.Collaborators{}))

	l := ledger.New(store.StepRepository(), logger)
	agg := aggregator.New(store.WorkflowRepository(), logger)
	engine := executor.New(store, l, agg, registry, logger)
	d := dispatcher.New(store, engine, agg, logger)

	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	workflowService := services.NewWorkflow(store, services.WithNodeValidator(registry), services.WithLogger(logger))

	handlers := web.NewAPIHandlers(
		workflowService,
		services.NewRun(store, l, d, engine),
		services.NewNode(workflowService),
		validator.New(validator.WithRequiredStructEnabled()),
		registry,
	)

	return &testAPI{app: web.NewApp(handlers, web.WithoutRequestLog()), engine: engine}
}

func TestIntegration_RunAgainstPostgres(t *testing.T) {
	api := setupIntegrationApp(t)

	req := onboarding()
	req.Status = models.WorkflowStatusActive
	wf := api.create(t, req)

	for range 3 {
		status, body := api.do(t, http.MethodPost, "/workflows/"+wf.ID+"/run", `{"plan":"pro"}`)
		require.Equal(t, http.StatusAccepted, status, string(body))

		var run models.Run
		require.NoError(t, json.Unmarshal(body, &run))

		finished, err := api.engine.Wait(t.Context(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, finished.Status)
	}

	status, body := api.do(t, http.MethodGet, "/workflows/"+wf.ID+"/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, status)

	var list models.RunList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, int64(3), list.TotalCount)
	assert.Len(t, list.Runs, 2)
	assert.True(t, list.HasNextPage)

	status, body = api.do(t, http.MethodGet, "/workflows/"+wf.ID+"/counters", nil)
	require.Equal(t, http.StatusOK, status)

	var counters models.Counters
	require.NoError(t, json.Unmarshal(body, &counters))
	assert.Equal(t, int64(3), counters.RunCount)
	assert.Equal(t, int64(3), counters.SuccessCount)

	status, _ = api.do(t, http.MethodDelete, "/workflows/"+wf.ID, nil)
	assert.Equal(t, http.StatusConflict, status)
}
