// Package services holds the workflow and run use cases behind the REST API and the CLI.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/automata/pkg/persistence"
)

// Client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortOrder     = errors.New("invalid sort order")
	ErrInvalidStatus        = errors.New("invalid workflow status")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrInvalidGraph         = errors.New("invalid workflow graph")
	ErrInvalidNodeData      = errors.New("invalid node data")
	ErrInvalidTrigger       = errors.New("invalid trigger configuration")

	// Not found (404).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound
	ErrNodeNotFound     = errors.New("node not found")

	// Conflicts (409 Conflict).
	ErrWorkflowHasRuns       = errors.New("workflow has run history")
	ErrWorkflowHasActiveRuns = errors.New("workflow has runs in progress")
	ErrRunNotActive          = errors.New("run is not in progress")
	ErrWorkflowNotActive     = errors.New("workflow not active")
	ErrTriggerMismatch       = errors.New("workflow does not accept this trigger")
	ErrCannotModifyActive    = errors.New("cannot modify nodes of an active workflow")
)

// ErrArchiveUnavailable is a server-side misconfiguration: archive deletes need an archiver.
var ErrArchiveUnavailable = errors.New("run history archive is not configured")

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidNodeData) ||
		errors.Is(err, ErrInvalidTrigger)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowHasRuns) ||
		errors.Is(err, ErrWorkflowHasActiveRuns) ||
		errors.Is(err, ErrRunNotActive) ||
		errors.Is(err, ErrWorkflowNotActive) ||
		errors.Is(err, ErrTriggerMismatch) ||
		errors.Is(err, ErrCannotModifyActive)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrNodeNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
