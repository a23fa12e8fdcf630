// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Run
	nodeService     *services.Node
	validator       *validator.Validate
	registry        *actions.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Run,
	nodeService *services.Node,
	validator *validator.Validate,
	registry *actions.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		nodeService:     nodeService,
		validator:       validator,
		registry:        registry,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	limit, offset, err := parsePage(c)
	if err != nil {
		return nil, err
	}

	req.Limit, req.Offset = limit, offset

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	if triggerStr := c.Query("trigger_type"); triggerStr != "" {
		trigger := models.TriggerType(triggerStr)
		req.TriggerType = &trigger
	}

	if templateStr := c.Query("template"); templateStr != "" {
		template, err := strconv.ParseBool(templateStr)
		if err != nil {
			return nil, err
		}

		req.Templates = &template
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = l
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = o
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	registryCheck, regOk := "no node types registered", false
	if h.registry != nil && len(h.registry.NodeTypes()) > 0 {
		registryCheck, regOk = strconv.Itoa(len(h.registry.NodeTypes()))+" node types registered", true
	}

	status := "unhealthy"
	message := "Automata API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Automata API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// bindWorkflow decodes and validates a workflow body. The string is the problem detail on failure.
func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*models.Workflow, string) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, "Invalid JSON format"
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err.Error()
	}

	return req.Workflow(), ""
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	workflow, detail := h.bindWorkflow(c)
	if workflow == nil {
		return badRequest(c, detail)
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, detail := h.bindWorkflow(c)
	if workflow == nil {
		return badRequest(c, detail)
	}

	updated, err := h.workflowService.Update(c.Context(), id, workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateWorkflowStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.SetStatus(c.Context(), id, req.Status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowCounters(c fiber.Ctx) error {
	counters, err := h.workflowService.Counters(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(counters)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	list := h.registry.List()

	types := make([]NodeTypeResponse, 0, len(list))
	for nodeType, action := range list {
		types = append(types, NodeTypeResponse{
			Type:        nodeType,
			Name:        action.Name(),
			Description: action.Description(),
			Schema:      action.Schema(),
		})
	}

	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })

	return c.JSON(types)
}
