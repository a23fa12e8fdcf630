package web

import (
	"encoding/json"

	"github.com/dukex/automata/pkg/models"
)

// WorkflowRequest is the body of workflow create and update requests.
type WorkflowRequest struct {
	Name          string                `json:"name"                     validate:"required,min=3"`
	Description   string                `json:"description"`
	Category      string                `json:"category"`
	IsTemplate    bool                  `json:"is_template"`
	Status        models.WorkflowStatus `json:"status,omitempty"         validate:"omitempty,oneof=draft active paused"`
	TriggerType   models.TriggerType    `json:"trigger_type,omitempty"   validate:"omitempty,oneof=manual event webhook schedule"`
	TriggerConfig json.RawMessage       `json:"trigger_config,omitempty"`
	Nodes         []models.Node         `json:"nodes"                    validate:"dive"`
	Edges         []models.Edge         `json:"edges"                    validate:"dive"`
	ErrorHandling models.ErrorHandling  `json:"error_handling,omitempty" validate:"omitempty,oneof=continue retry halt"`
	MaxRetries    int                   `json:"max_retries"              validate:"min=0,max=10"`
}

// Workflow converts the request into a workflow definition.
func (r WorkflowRequest) Workflow() *models.Workflow {
	return &models.Workflow{
		Name:          r.Name,
		Description:   r.Description,
		Category:      r.Category,
		IsTemplate:    r.IsTemplate,
		Status:        r.Status,
		TriggerType:   r.TriggerType,
		TriggerConfig: r.TriggerConfig,
		Nodes:         r.Nodes,
		Edges:         r.Edges,
		ErrorHandling: r.ErrorHandling,
		MaxRetries:    r.MaxRetries,
	}
}

// StatusRequest toggles the status of a workflow.
type StatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required,oneof=draft active paused"`
}

// CreateNodeRequest represents the request body for adding a node to a workflow.
type CreateNodeRequest struct {
	Type      string          `json:"type"       validate:"required"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	PositionX float64         `json:"position_x"`
	PositionY float64         `json:"position_y"`
	// After is the node the new node is connected from. Label names that edge.
	After string `json:"after,omitempty"`
	Label string `json:"label,omitempty"`
}

// UpdateNodeRequest represents the request body for updating an existing workflow node.
// The node type cannot be changed.
type UpdateNodeRequest struct {
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	PositionX float64         `json:"position_x"`
	PositionY float64         `json:"position_y"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// StepsResponse lists the recorded attempts of a run.
type StepsResponse struct {
	RunID string         `json:"run_id"`
	Steps []*models.Step `json:"steps"`
}
