package redis_test

import (
	"log/slog"
	"os"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/persistencetest"
	"github.com/dukex/automata/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) (*redis.Persistence, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}

	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := redis.NewPersistence(t.Context(), logger, "redis://"+srv.Addr())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(t.Context()) })

	return p, srv
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		p, _ := newTestPersistence(t)

		return p
	})
}

func TestRedisPersistence_CountersLiveOutsideDocument(t *testing.T) {
	p, srv := newTestPersistence(t)

	workflow := persistencetest.Workflow("counters hash")
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	_, err := p.WorkflowRepository().ApplyRunOutcome(t.Context(), workflow.ID, "run-1", "completed", workflow.CreatedAt)
	require.NoError(t, err)

	assert.Equal(t, "1", srv.HGet("automata:workflow:"+workflow.ID+":counters", "run_count"))
	assert.True(t, srv.Exists("automata:run:run-1:aggregated"))
}

func TestRedisPersistence_HealthCheckAfterShutdown(t *testing.T) {
	p, srv := newTestPersistence(t)

	require.NoError(t, p.HealthCheck(t.Context()))

	srv.Close()
	assert.Error(t, p.HealthCheck(t.Context()))
}
