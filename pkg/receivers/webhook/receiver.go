// Package webhook admits inbound HTTP calls as webhook triggers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/models"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultPrefix is the route prefix webhook paths are served under.
const DefaultPrefix = "/hooks"

// Dispatcher resolves webhook paths and admits runs.
type Dispatcher interface {
	ResolveWebhook(ctx context.Context, path string) (*models.Workflow, models.WebhookTriggerConfig, error)
	DispatchWorkflow(ctx context.Context, wf *models.Workflow, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error)
}

type Receiver struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	prefix     string
}

// NewReceiver creates a webhook receiver serving under DefaultPrefix.
func NewReceiver(d Dispatcher, logger *slog.Logger) *Receiver {
	return &Receiver{
		dispatcher: d,
		logger:     logger.With("module", "webhook_receiver"),
		prefix:     DefaultPrefix,
	}
}

// Mount registers POST <prefix>/* on router.
func (r *Receiver) Mount(router fiber.Router) {
	router.Post(r.prefix+"/*", r.handleWebhook)
}

// Accepted is the response body of an admitted webhook call.
type Accepted struct {
	RunID      string           `json:"run_id"`
	WorkflowID string           `json:"workflow_id"`
	Status     models.RunStatus `json:"status"`
}

func (r *Receiver) handleWebhook(c fiber.Ctx) error {
	ctx := c.Context()
	path := strings.Trim(c.Params("*"), "/")

	if path == "" {
		return problem(c, fiber.StatusBadRequest, "validation_error", "missing webhook path")
	}

	wf, cfg, err := r.dispatcher.ResolveWebhook(ctx, path)
	if err != nil {
		if dispatcher.IsKind(err, dispatcher.NotFound) {
			r.logger.WarnContext(ctx, "webhook request for unknown path", "path", path, "remote_addr", c.IP())

			return problem(c, fiber.StatusNotFound, "webhook_not_found", err.Error())
		}

		return problem(c, fiber.StatusInternalServerError, "internal_error", err.Error())
	}

	logger := r.logger.With("workflow_id", wf.ID, "path", path)

	body := c.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return problem(c, fiber.StatusBadRequest, "validation_error", "Invalid JSON in request body")
	}

	if len(cfg.PayloadSchema) > 0 {
		if err := validatePayload(payload, cfg.PayloadSchema); err != nil {
			logger.WarnContext(ctx, "webhook payload rejected by schema", "error", err)

			return problem(c, fiber.StatusBadRequest, "schema_validation_error", err.Error())
		}
	}

	run, err := r.dispatcher.DispatchWorkflow(ctx, wf, models.TriggerTypeWebhook, body)
	if err != nil {
		return r.rejection(c, logger, err)
	}

	logger.InfoContext(ctx, "webhook accepted", "run_id", run.ID, "user_agent", c.Get(fiber.HeaderUserAgent))

	return c.Status(fiber.StatusAccepted).JSON(Accepted{RunID: run.ID, WorkflowID: wf.ID, Status: run.Status})
}

func (r *Receiver) rejection(c fiber.Ctx, logger *slog.Logger, err error) error {
	switch {
	case dispatcher.IsKind(err, dispatcher.NotActive):
		return problem(c, fiber.StatusConflict, "workflow_not_active", err.Error())
	case dispatcher.IsKind(err, dispatcher.TriggerMismatch):
		return problem(c, fiber.StatusConflict, "trigger_mismatch", err.Error())
	case errors.Is(err, dispatcher.ErrInvalidPayload):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())
	default:
		logger.ErrorContext(c.Context(), "webhook dispatch failed", "error", err)

		return problem(c, fiber.StatusServiceUnavailable, "dispatch_failed", err.Error())
	}
}

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// validatePayload checks payload against a JSON schema.
func validatePayload(payload any, schema map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid payload schema: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
