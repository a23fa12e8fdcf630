package web

import (
	"encoding/json"

	"github.com/dukex/automata/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// RunWorkflow starts a manual run. The request body, if any, becomes the trigger data.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	body := c.Body()
	if len(body) > 0 && !json.Valid(body) {
		return badRequest(c, "Invalid JSON format")
	}

	run, err := h.runService.Trigger(c.Context(), id, json.RawMessage(body))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	list, err := h.runService.ListRuns(c.Context(), c.Params("id"), models.RunListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.FetchRun(c.Context(), c.Params("runId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunSteps(c fiber.Ctx) error {
	runID := c.Params("runId")

	steps, err := h.runService.FetchSteps(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StepsResponse{RunID: runID, Steps: steps})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.runService.Cancel(c.Context(), c.Params("runId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}
