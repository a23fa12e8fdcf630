package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the state of a run in the pending → running → {completed, failed} machine.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one execution instance of a workflow.
type Run struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      RunStatus       `json:"status"`
	TriggerType TriggerType     `json:"trigger_type"`
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	// Output is the output of the last node that completed, skipping condition and delay nodes,
	// whose outputs are routing data. A run whose only completed node is the trigger carries
	// the trigger output.
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Start moves a pending run to running.
func (r *Run) Start(at time.Time) {
	r.Status = RunStatusRunning
	r.StartedAt = &at
}

// Complete moves the run to completed with the given output.
func (r *Run) Complete(at time.Time, output json.RawMessage) {
	r.finish(RunStatusCompleted, at)
	r.Output = output
}

// Fail moves the run to failed with reason.
func (r *Run) Fail(at time.Time, reason string) {
	r.finish(RunStatusFailed, at)
	r.Error = reason
}

func (r *Run) finish(status RunStatus, at time.Time) {
	r.Status = status
	r.CompletedAt = &at

	started := r.CreatedAt
	if r.StartedAt != nil {
		started = *r.StartedAt
	}

	r.DurationMs = at.Sub(started).Milliseconds()
}

// RunListOptions paginates run listings.
type RunListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// RunList is a page of runs ordered by creation time, most recent first.
type RunList struct {
	Runs        []*Run `json:"runs"`
	TotalCount  int64  `json:"total_count"`
	HasNextPage bool   `json:"has_next_page"`
}
