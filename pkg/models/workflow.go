// Package models defines the core domain models for CRM workflow automation.
package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, never executed
	WorkflowStatusActive WorkflowStatus = "active" // Accepts every trigger type
	WorkflowStatusPaused WorkflowStatus = "paused" // Accepts manual runs only
)

// ErrorHandling is the workflow-level policy applied when a node execution fails.
type ErrorHandling string

const (
	ErrorHandlingContinue ErrorHandling = "continue"
	ErrorHandlingRetry    ErrorHandling = "retry"
	ErrorHandlingHalt     ErrorHandling = "halt"
)

// Workflow is a saved automation definition: graph, trigger and failure policy.
type Workflow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"                     validate:"required,min=3"`
	Description   string          `json:"description"`
	Category      string          `json:"category,omitempty"`
	IsTemplate    bool            `json:"is_template"`
	Status        WorkflowStatus  `json:"status"                   validate:"required,oneof=draft active paused"`
	TriggerType   TriggerType     `json:"trigger_type"             validate:"required,oneof=manual event webhook schedule"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	Nodes         []Node          `json:"nodes"`
	Edges         []Edge          `json:"edges"`
	ErrorHandling ErrorHandling   `json:"error_handling"           validate:"required,oneof=continue retry halt"`
	MaxRetries    int             `json:"max_retries"              validate:"min=0"`

	// Counters are owned by the run aggregator.
	RunCount     int64      `json:"run_count"`
	SuccessCount int64      `json:"success_count"`
	ErrorCount   int64      `json:"error_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counters is a snapshot of the aggregate run counters of a workflow.
type Counters struct {
	RunCount     int64      `json:"run_count"`
	SuccessCount int64      `json:"success_count"`
	ErrorCount   int64      `json:"error_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

// Counters returns the aggregate counters of the workflow.
func (w *Workflow) Counters() Counters {
	return Counters{
		RunCount:     w.RunCount,
		SuccessCount: w.SuccessCount,
		ErrorCount:   w.ErrorCount,
		LastRunAt:    w.LastRunAt,
	}
}

// TriggerNode returns the first node of type trigger, if any.
func (w *Workflow) TriggerNode() (Node, bool) {
	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			return node, true
		}
	}

	return Node{}, false
}

// AcceptsTrigger reports whether a run of the given trigger type may be admitted in the
// workflow's current status. Manual runs are accepted in any non-draft state.
func (w *Workflow) AcceptsTrigger(triggerType TriggerType) bool {
	if triggerType == TriggerTypeManual {
		return w.Status != WorkflowStatusDraft
	}

	return w.Status == WorkflowStatusActive
}
