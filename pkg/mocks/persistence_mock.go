package mocks

import (
	"context"
	"time"

	"github.com/dukex/automata/pkg/models"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) ApplyRunOutcome(ctx context.Context, workflowID, runID string, status models.RunStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, workflowID, runID, status, at)

	return args.Bool(0), args.Error(1)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) Update(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRunRepository) ListByWorkflow(ctx context.Context, workflowID string, opts models.RunListOptions) (*models.RunList, error) {
	args := m.Called(ctx, workflowID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunList), args.Error(1)
}

func (m *MockRunRepository) CountByWorkflow(ctx context.Context, workflowID string) (int64, error) {
	args := m.Called(ctx, workflowID)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

// MockStepRepository is a mock implementation of persistence.StepRepository interface.
type MockStepRepository struct {
	mock.Mock
}

func (m *MockStepRepository) Append(ctx context.Context, step *models.Step) error {
	args := m.Called(ctx, step)

	return args.Error(0)
}

func (m *MockStepRepository) ListByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Step), args.Error(1)
}

func (m *MockStepRepository) DeleteByRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	workflows *MockWorkflowRepository
	runs      *MockRunRepository
	steps     *MockStepRepository
}

// NewMockPersistence creates a new mock persistence with initialized repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflows: &MockWorkflowRepository{},
		runs:      &MockRunRepository{},
		steps:     &MockStepRepository{},
	}
}

func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflows
}

func (m *MockPersistence) GetMockRunRepository() *MockRunRepository {
	return m.runs
}

func (m *MockPersistence) GetMockStepRepository() *MockStepRepository {
	return m.steps
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflows
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.runs
}

func (m *MockPersistence) StepRepository() persistence.StepRepository {
	return m.steps
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
