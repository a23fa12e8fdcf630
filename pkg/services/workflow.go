package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/graph"
	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DeletePolicy decides what happens to the run history of a deleted workflow.
type DeletePolicy string

const (
	// DeleteReject refuses to delete a workflow that has runs.
	DeleteReject DeletePolicy = "reject"
	// DeleteArchive copies the run history to the archive, then removes it with the workflow.
	DeleteArchive DeletePolicy = "archive"
)

func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteReject:
		return DeleteReject, nil
	case DeleteArchive:
		return DeleteArchive, nil
	default:
		return "", fmt.Errorf("unknown delete policy %q", s)
	}
}

// NodeValidator checks node data against the schema of its node type.
type NodeValidator interface {
	ValidateNodes(nodes []models.Node) error
}

// Archiver stores the definition and run history of a workflow.
type Archiver interface {
	ArchiveWorkflow(ctx context.Context, wf *models.Workflow) (int, error)
}

type Workflow struct {
	persistence persistence.Persistence
	nodes       NodeValidator
	archiver    Archiver
	publisher   eventbus.EventPublisher
	policy      DeletePolicy
	validate    *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

type WorkflowOption func(*Workflow)

func WithNodeValidator(v NodeValidator) WorkflowOption {
	return func(w *Workflow) { w.nodes = v }
}

func WithArchiver(a Archiver) WorkflowOption {
	return func(w *Workflow) { w.archiver = a }
}

// WithPublisher announces activation changes and deletes, so trigger sources can refresh.
func WithPublisher(p eventbus.EventPublisher) WorkflowOption {
	return func(w *Workflow) { w.publisher = p }
}

func WithDeletePolicy(p DeletePolicy) WorkflowOption {
	return func(w *Workflow) { w.policy = p }
}

func WithClock(clock clockwork.Clock) WorkflowOption {
	return func(w *Workflow) { w.clock = clock }
}

func WithLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger }
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		persistence: persistence,
		policy:      DeleteReject,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With("module", "workflow_service")

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit  int
	Offset int

	Status      *models.WorkflowStatus
	TriggerType *models.TriggerType
	// Templates selects template (true) or regular (false) workflows.
	Templates *bool

	SortBy    string
	SortOrder string
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

var allowedSorts = []string{"created_at", "updated_at", "name", "last_run_at"}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, err
	}

	all, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := slices.DeleteFunc(all, func(wf *models.Workflow) bool {
		return (req.Status != nil && wf.Status != *req.Status) ||
			(req.TriggerType != nil && wf.TriggerType != *req.TriggerType) ||
			(req.Templates != nil && wf.IsTemplate != *req.Templates)
	})

	slices.SortStableFunc(filtered, func(a, b *models.Workflow) int {
		c := compareWorkflows(a, b, req.SortBy)
		if req.SortOrder == "desc" {
			return -c
		}

		return c
	})

	total := len(filtered)
	if req.Offset >= total {
		return &ListWorkflowsResponse{Workflows: []*models.Workflow{}, TotalCount: int64(total)}, nil
	}

	end := min(req.Offset+req.Limit, total)

	return &ListWorkflowsResponse{
		Workflows:   filtered[req.Offset:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

func compareWorkflows(a, b *models.Workflow, field string) int {
	switch field {
	case "name":
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "last_run_at":
		switch {
		case a.LastRunAt == nil && b.LastRunAt == nil:
			return 0
		case a.LastRunAt == nil:
			return -1
		case b.LastRunAt == nil:
			return 1
		default:
			return a.LastRunAt.Compare(*b.LastRunAt)
		}
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"ListWorkflows",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"ListWorkflows",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil && !validStatus(*req.Status) {
		return NewValidationError("ListWorkflows", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", *req.Status), ErrInvalidStatus)
	}

	return nil
}

func validStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusPaused:
		return true
	default:
		return false
	}
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create validates and stores a new workflow. A new workflow is a draft unless a status is given.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow.ID = uuid.New().String()

	return w.create(ctx, workflow)
}

// Import stores a definition loaded from a file. A definition whose ID exists replaces that
// workflow, keeping its counters; otherwise it is created under its own ID, or a new one when
// it has none. created reports which happened.
func (w *Workflow) Import(ctx context.Context, workflow *models.Workflow) (_ *models.Workflow, created bool, err error) {
	if workflow == nil {
		return nil, false, ErrWorkflowNil
	}

	if workflow.ID == "" {
		wf, err := w.Create(ctx, workflow)

		return wf, true, err
	}

	_, err = w.persistence.WorkflowRepository().GetByID(ctx, workflow.ID)

	switch {
	case err == nil:
		wf, err := w.Update(ctx, workflow.ID, workflow)

		return wf, false, err
	case persistence.IsWorkflowNotFound(err):
		wf, err := w.create(ctx, workflow)

		return wf, true, err
	default:
		return nil, false, err
	}
}

// Validate checks a definition the way Create would, without storing it.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	candidate := *workflow
	applyDefaults(&candidate)

	return w.check("Validate", &candidate)
}

func (w *Workflow) create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	now := w.clock.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.RunCount, workflow.SuccessCount, workflow.ErrorCount, workflow.LastRunAt = 0, 0, 0, nil

	applyDefaults(workflow)

	if err := w.check("Create", workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "status", workflow.Status)

	if workflow.Status == models.WorkflowStatusActive {
		w.announce(ctx, workflow, models.WorkflowStatusDraft)
	}

	return workflow, nil
}

// Update replaces the definition of an existing workflow. Counters are kept.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.clock.Now().UTC()
	workflow.RunCount = existing.RunCount
	workflow.SuccessCount = existing.SuccessCount
	workflow.ErrorCount = existing.ErrorCount
	workflow.LastRunAt = existing.LastRunAt

	if workflow.Status == "" {
		workflow.Status = existing.Status
	}

	applyDefaults(workflow)

	if err := w.check("Update", workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.announce(ctx, workflow, existing.Status)

	return workflow, nil
}

func applyDefaults(workflow *models.Workflow) {
	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if workflow.ErrorHandling == "" {
		workflow.ErrorHandling = models.ErrorHandlingHalt
	}

	if workflow.TriggerType == "" {
		workflow.TriggerType = models.TriggerTypeManual
	}
}

// check validates the definition: struct rules, graph shape, trigger configuration and node data.
func (w *Workflow) check(op string, workflow *models.Workflow) error {
	if strings.TrimSpace(workflow.Name) == "" {
		return NewValidationError(op, "NAME_REQUIRED", ErrWorkflowNameRequired.Error(), ErrWorkflowNameRequired)
	}

	if err := w.validate.Struct(workflow); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return NewValidationError(op, "INVALID_WORKFLOW", formatValidation(verrs), ErrInvalidRequest)
		}

		return NewValidationError(op, "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if _, err := graph.Validate(workflow.Nodes, workflow.Edges); err != nil {
		var gerr *graph.Error

		code := "INVALID_GRAPH"
		if errors.As(err, &gerr) {
			code = "GRAPH_" + strings.ToUpper(string(gerr.Kind))
		}

		return NewValidationError(op, code, err.Error(), fmt.Errorf("%w: %w", ErrInvalidGraph, err))
	}

	if err := workflow.ValidateTriggerConfig(); err != nil {
		return NewValidationError(op, "INVALID_TRIGGER", err.Error(), fmt.Errorf("%w: %w", ErrInvalidTrigger, err))
	}

	if w.nodes != nil {
		if err := w.nodes.ValidateNodes(workflow.Nodes); err != nil {
			return NewValidationError(op, "INVALID_NODE_DATA", err.Error(), fmt.Errorf("%w: %w", ErrInvalidNodeData, err))
		}
	}

	return nil
}

func formatValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}

	return strings.Join(parts, "; ")
}

// Delete removes a workflow according to the delete policy.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	runs, err := w.persistence.RunRepository().CountByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}

	if runs > 0 {
		if err := w.removeHistory(ctx, existing, runs); err != nil {
			return err
		}
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deleted", "workflow_id", workflowID, "runs", runs, "policy", w.policy)
	w.announceDeleted(ctx, workflowID)

	return nil
}

func (w *Workflow) removeHistory(ctx context.Context, wf *models.Workflow, count int64) error {
	if w.policy != DeleteArchive {
		return NewValidationError("Delete", "WORKFLOW_HAS_RUNS",
			fmt.Sprintf("workflow %s has %d runs", wf.ID, count), ErrWorkflowHasRuns)
	}

	if w.archiver == nil {
		return ErrArchiveUnavailable
	}

	runIDs, err := w.runIDs(ctx, wf.ID)
	if err != nil {
		return err
	}

	if _, err := w.archiver.ArchiveWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("failed to archive run history: %w", err)
	}

	for _, runID := range runIDs {
		if err := w.persistence.StepRepository().DeleteByRun(ctx, runID); err != nil {
			return fmt.Errorf("failed to delete steps of run %s: %w", runID, err)
		}
	}

	if err := w.persistence.RunRepository().DeleteByWorkflow(ctx, wf.ID); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}

	return nil
}

// runIDs lists every run of workflowID and refuses when one is still in progress.
func (w *Workflow) runIDs(ctx context.Context, workflowID string) ([]string, error) {
	var ids []string

	opts := models.RunListOptions{Limit: persistence.MaxRunPageSize}

	for {
		page, err := w.persistence.RunRepository().ListByWorkflow(ctx, workflowID, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		for _, run := range page.Runs {
			if !run.Status.IsTerminal() {
				return nil, NewValidationError("Delete", "WORKFLOW_HAS_ACTIVE_RUNS",
					fmt.Sprintf("run %s is %s", run.ID, run.Status), ErrWorkflowHasActiveRuns)
			}

			ids = append(ids, run.ID)
		}

		if !page.HasNextPage {
			return ids, nil
		}

		opts.Offset += len(page.Runs)
	}
}

// Counters returns the aggregate run counters of a workflow.
func (w *Workflow) Counters(ctx context.Context, workflowID string) (models.Counters, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return models.Counters{}, err
	}

	return wf.Counters(), nil
}
