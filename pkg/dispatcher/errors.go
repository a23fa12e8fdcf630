package dispatcher

import (
	"errors"
	"fmt"

	"github.com/dukex/automata/pkg/models"
)

// ErrorKind classifies an admission rejection.
type ErrorKind string

const (
	NotFound        ErrorKind = "not_found"
	NotActive       ErrorKind = "not_active"
	TriggerMismatch ErrorKind = "trigger_mismatch"
)

var (
	ErrInvalidPayload = errors.New("trigger data must be valid JSON")
	ErrHandoff        = errors.New("run handoff failed")
)

// Error is returned when a trigger is not admitted. No run exists for it.
type Error struct {
	Kind        ErrorKind
	WorkflowID  string
	TriggerType models.TriggerType
	Status      models.WorkflowStatus
	// Path is set when a webhook path matched no workflow.
	Path string
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		if e.Path != "" {
			return fmt.Sprintf("no workflow is bound to webhook path %q", e.Path)
		}

		return fmt.Sprintf("workflow %s not found", e.WorkflowID)
	case NotActive:
		return fmt.Sprintf("workflow %s is not active (status %s)", e.WorkflowID, e.Status)
	case TriggerMismatch:
		return fmt.Sprintf("workflow %s does not accept %s triggers", e.WorkflowID, e.TriggerType)
	default:
		return fmt.Sprintf("trigger rejected: %s", e.Kind)
	}
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// IsKind reports whether err is a dispatcher error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error

	return errors.As(err, &de) && de.Kind == kind
}
