package graph

import "fmt"

// ErrorKind classifies a structural problem in a workflow graph.
type ErrorKind string

const (
	ErrMissingTrigger   ErrorKind = "missing_trigger"
	ErrMultipleTriggers ErrorKind = "multiple_triggers"
	ErrCycle            ErrorKind = "cycle"
	ErrDanglingEdge     ErrorKind = "dangling_edge"
	ErrUnreachable      ErrorKind = "unreachable"
	ErrDuplicateNode    ErrorKind = "duplicate_node"
	ErrEmptyNodeID      ErrorKind = "empty_node_id"
)

// Error is returned by Validate when the node/edge set is not an executable graph.
type Error struct {
	Kind   ErrorKind
	NodeID string
	EdgeID string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrMissingTrigger:
		return "graph has no trigger node"
	case ErrMultipleTriggers:
		return fmt.Sprintf("graph has more than one trigger node (second: %s)", e.NodeID)
	case ErrCycle:
		return fmt.Sprintf("graph contains a cycle through node %s", e.NodeID)
	case ErrDanglingEdge:
		return fmt.Sprintf("edge %s references unknown node %s", e.EdgeID, e.NodeID)
	case ErrUnreachable:
		return fmt.Sprintf("node %s is not reachable from the trigger", e.NodeID)
	case ErrDuplicateNode:
		return fmt.Sprintf("node id %s is used more than once", e.NodeID)
	case ErrEmptyNodeID:
		return "node id is required"
	default:
		return fmt.Sprintf("invalid graph: %s", e.Kind)
	}
}

// Is matches any *Error with the same Kind, so errors.Is(err, &graph.Error{Kind: graph.ErrCycle})
// works regardless of the offending node.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}
