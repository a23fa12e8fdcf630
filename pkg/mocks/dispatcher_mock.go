package mocks

import (
	"context"
	"encoding/json"

	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock of the trigger dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, workflowID string, triggerType models.TriggerType, data json.RawMessage) (*models.Run, error) {
	args := m.Called(ctx, workflowID, triggerType, data)

	run, _ := args.Get(0).(*models.Run)

	return run, args.Error(1)
}

// MockCanceller is a mock of the run canceller.
type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) Cancel(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)

	return args.Error(0)
}
