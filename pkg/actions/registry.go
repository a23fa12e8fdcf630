package actions

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/automata/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrInvalidNodeData = errors.New("invalid node data")
)

// Registry holds the actions available to workflows.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	actions map[string]Action
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "actions"),
		actions: make(map[string]Action),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds action under its ID, replacing a previous registration. Aliases register the
// same action under additional node types.
func (r *Registry) Register(action Action, aliases ...string) error {
	var schema *gojsonschema.Schema

	if raw := action.Schema(); raw != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
		if err != nil {
			return fmt.Errorf("invalid schema for node type %s: %w", action.ID(), err)
		}

		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, nodeType := range append([]string{action.ID()}, aliases...) {
		r.actions[nodeType] = action
		r.schemas[nodeType] = schema

		r.logger.Debug("registered action", "node_type", nodeType)
	}

	return nil
}

// Resolve returns the handler of nodeType.
func (r *Registry) Resolve(nodeType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	return action, nil
}

// List returns the registered actions keyed by node type.
func (r *Registry) List() map[string]Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Action, len(r.actions))
	for nodeType, action := range r.actions {
		out[nodeType] = action
	}

	return out
}

// NodeTypes returns the registered node types in lexical order.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actions))
	for nodeType := range r.actions {
		types = append(types, nodeType)
	}

	sort.Strings(types)

	return types
}

// ValidateNode checks that the node type is known and its data satisfies the action schema.
func (r *Registry) ValidateNode(node models.Node) error {
	r.mu.RLock()
	_, known := r.actions[node.Type]
	schema := r.schemas[node.Type]
	r.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: node %s has type %q", ErrUnknownNodeType, node.ID, node.Type)
	}

	if schema == nil {
		return nil
	}

	data := node.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: node %s: %v", ErrInvalidNodeData, node.ID, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}

		return fmt.Errorf("%w: node %s: %s", ErrInvalidNodeData, node.ID, strings.Join(messages, "; "))
	}

	return nil
}

// ValidateNodes validates every node and returns the first error.
func (r *Registry) ValidateNodes(nodes []models.Node) error {
	for _, node := range nodes {
		if err := r.ValidateNode(node); err != nil {
			return err
		}
	}

	return nil
}
