package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/automata/pkg/aggregator"
	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/dukex/automata/pkg/receivers/webhook"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu   sync.Mutex
	runs []*models.Run
	err  error
}

func (c *capture) Submit(_ context.Context, run *models.Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	c.runs = append(c.runs, run)

	return nil
}

func setup(t *testing.T) (*fiber.App, persistence.Persistence, *capture) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	handoff := &capture{}
	agg := aggregator.New(store.WorkflowRepository(), log.Discard())
	d := dispatcher.New(store, handoff, agg, log.Discard())

	app := fiber.New()
	webhook.NewReceiver(d, log.Discard()).Mount(app)

	return app, store, handoff
}

func saveWebhookWorkflow(t *testing.T, store persistence.Persistence, status models.WorkflowStatus, config string) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		ID:            uuid.NewString(),
		Name:          "form submissions",
		Status:        status,
		TriggerType:   models.TriggerTypeWebhook,
		TriggerConfig: json.RawMessage(config),
		ErrorHandling: models.ErrorHandlingHalt,
		Nodes:         []models.Node{{ID: "trigger", Type: models.NodeTypeTrigger}},
	}
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))

	return resp.StatusCode, decoded
}

func TestReceiver_AdmitsActiveWorkflow(t *testing.T) {
	app, store, handoff := setup(t)
	wf := saveWebhookWorkflow(t, store, models.WorkflowStatusActive, `{"path":"/forms/demo-request/"}`)

	status, body := post(t, app, "/hooks/forms/demo-request", `{"email":"ada@example.com"}`)
	require.Equal(t, http.StatusAccepted, status, body)

	assert.Equal(t, wf.ID, body["workflow_id"])
	assert.Equal(t, string(models.RunStatusPending), body["status"])

	require.Len(t, handoff.runs, 1)
	run := handoff.runs[0]
	assert.Equal(t, models.TriggerTypeWebhook, run.TriggerType)
	assert.JSONEq(t, `{"email":"ada@example.com"}`, string(run.TriggerData))
}

func TestReceiver_Rejections(t *testing.T) {
	app, store, handoff := setup(t)
	saveWebhookWorkflow(t, store, models.WorkflowStatusPaused, `{"path":"paused"}`)
	saveWebhookWorkflow(t, store, models.WorkflowStatusActive, `{"path":"signup","payload_schema":{"type":"object","required":["email"]}}`)

	for _, tc := range []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{name: "unknown path", path: "/hooks/nowhere", body: `{}`, status: http.StatusNotFound, kind: "webhook_not_found"},
		{name: "paused workflow", path: "/hooks/paused", body: `{}`, status: http.StatusConflict, kind: "workflow_not_active"},
		{name: "schema violation", path: "/hooks/signup", body: `{"name":"Ada"}`, status: http.StatusBadRequest, kind: "schema_validation_error"},
		{name: "invalid json", path: "/hooks/signup", body: `{"email":`, status: http.StatusBadRequest, kind: "validation_error"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, app, tc.path, tc.body)

			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, body["type"])
		})
	}

	assert.Empty(t, handoff.runs)

	status, _ := post(t, app, "/hooks/signup", `{"email":"ada@example.com"}`)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestReceiver_HandoffFailure(t *testing.T) {
	app, store, handoff := setup(t)
	wf := saveWebhookWorkflow(t, store, models.WorkflowStatusActive, `{"path":"hook"}`)
	handoff.err = errors.New("queue full")

	status, body := post(t, app, "/hooks/hook", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "dispatch_failed", body["type"])

	stored, err := store.WorkflowRepository().GetByID(t.Context(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ErrorCount)
}
