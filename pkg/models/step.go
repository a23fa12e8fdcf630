package models

import (
	"encoding/json"
	"time"
)

// StepStatus is the state of one node execution attempt.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// IsTerminal reports whether the step has reached its final outcome.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// Step is one node execution attempt within a run. Retries append new steps with a higher
// Attempt for the same (RunID, NodeID) pair.
type Step struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	NodeID      string          `json:"node_id"`
	NodeType    string          `json:"node_type"`
	Status      StepStatus      `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt"`

	// Sequence orders steps of one run when start times tie.
	Sequence int `json:"sequence"`
}

// Before reports whether s was started before other within the same run.
func (s *Step) Before(other *Step) bool {
	if !s.StartedAt.Equal(other.StartedAt) {
		return s.StartedAt.Before(other.StartedAt)
	}

	return s.Sequence < other.Sequence
}

// Complete marks the step completed.
func (s *Step) Complete(at time.Time, output json.RawMessage) {
	s.finish(StepStatusCompleted, at)
	s.Output = output
}

// Fail marks the step failed with the error message of the last attempt.
func (s *Step) Fail(at time.Time, reason string) {
	s.finish(StepStatusFailed, at)
	s.Error = reason
}

func (s *Step) finish(status StepStatus, at time.Time) {
	s.Status = status
	s.CompletedAt = &at
	s.DurationMs = at.Sub(s.StartedAt).Milliseconds()
}
