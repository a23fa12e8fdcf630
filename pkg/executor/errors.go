package executor

import (
	"errors"
	"fmt"
)

var (
	ErrEngineClosed  = errors.New("engine is closed")
	ErrRunActive     = errors.New("run is already executing")
	ErrRunNotActive  = errors.New("run is not executing")
	ErrRunNotPending = errors.New("run is not pending")
	ErrCancelled     = errors.New("cancelled")
	ErrShutdown      = errors.New("engine shut down")
	ErrNodeTimeout   = errors.New("node timed out")
)

// StepError is the failure of one node attempt. Its message is recorded on the step.
type StepError struct {
	NodeID   string
	NodeType string
	Attempt  int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s (%s) failed on attempt %d: %v", e.NodeID, e.NodeType, e.Attempt, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunError is the reason a run failed. Its message becomes Run.Error.
type RunError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
