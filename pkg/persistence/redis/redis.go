// Package redis provides a Redis persistence implementation. Definitions and runs are JSON
// documents; workflow counters live in a separate hash mutated only through a Lua script.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const defaultRedisURL = "redis://localhost:6379"

// Persistence implements persistence.Persistence on top of a Redis client.
type Persistence struct {
	client       *redis.Client
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
	stepRepo     *StepRepository
}

// NewPersistence connects to the Redis server at url.
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	if url == "" {
		url = defaultRedisURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Persistence{
		client:       client,
		logger:       logger,
		workflowRepo: &WorkflowRepository{client: client},
		runRepo:      &RunRepository{client: client, logger: logger},
		stepRepo:     &StepRepository{client: client},
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) StepRepository() persistence.StepRepository {
	return p.stepRepo
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close shuts down the Redis client.
func (p *Persistence) Close(_ context.Context) error {
	if p.client == nil {
		return nil
	}

	return p.client.Close()
}

func workflowKey(id string) string {
	return "automata:workflow:" + id
}

func workflowCountersKey(id string) string {
	return "automata:workflow:" + id + ":counters"
}

func workflowAllIndexKey() string {
	return "automata:workflows"
}

func workflowTriggerIndexKey(triggerType models.TriggerType) string {
	return "automata:workflows:trigger:" + string(triggerType)
}

func runKey(id string) string {
	return "automata:run:" + id
}

func runIndexKey(workflowID string) string {
	return "automata:workflow:" + workflowID + ":runs"
}

func runStepsKey(runID string) string {
	return "automata:run:" + runID + ":steps"
}

func runAggregatedKey(runID string) string {
	return "automata:run:" + runID + ":aggregated"
}

var triggerTypes = []models.TriggerType{
	models.TriggerTypeManual,
	models.TriggerTypeEvent,
	models.TriggerTypeWebhook,
	models.TriggerTypeSchedule,
}
