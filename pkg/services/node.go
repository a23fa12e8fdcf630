package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dukex/automata/pkg/models"
	"github.com/google/uuid"
)

// CreateNodeRequest represents the request to add a node to a workflow.
type CreateNodeRequest struct {
	Type      string
	Name      string
	Data      json.RawMessage
	PositionX float64
	PositionY float64
	// After connects the new node as a successor of this node, with Label on the edge.
	After string
	Label string
}

// UpdateNodeRequest represents the request to update an existing workflow node.
type UpdateNodeRequest struct {
	Name      string
	Data      json.RawMessage
	PositionX float64
	PositionY float64
}

// Node edits the nodes of a workflow. Every edit is validated like a full workflow update.
type Node struct {
	workflows *Workflow
}

// NewNode creates a new node service.
func NewNode(workflows *Workflow) *Node {
	return &Node{workflows: workflows}
}

// editable loads a workflow whose graph may be changed. Active workflows are read-only.
func (n *Node) editable(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusActive {
		return nil, NewValidationError("EditNode", "WORKFLOW_ACTIVE",
			"pause the workflow before editing its nodes", ErrCannotModifyActive)
	}

	return workflow, nil
}

// CreateNode adds a node to the workflow.
func (n *Node) CreateNode(ctx context.Context, workflowID string, req *CreateNodeRequest) (*models.Node, error) {
	workflow, err := n.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node := models.Node{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Name:      req.Name,
		Data:      req.Data,
		PositionX: req.PositionX,
		PositionY: req.PositionY,
	}

	workflow.Nodes = append(workflow.Nodes, node)

	if req.After != "" {
		workflow.Edges = append(workflow.Edges, models.Edge{
			ID:     uuid.New().String(),
			Source: req.After,
			Target: node.ID,
			Label:  req.Label,
		})
	}

	if _, err := n.workflows.Update(ctx, workflowID, workflow); err != nil {
		return nil, err
	}

	return &node, nil
}

// GetNode retrieves a specific node from the specified workflow.
func (n *Node) GetNode(ctx context.Context, workflowID, nodeID string) (*models.Node, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(workflow.Nodes, func(node models.Node) bool { return node.ID == nodeID })
	if i < 0 {
		return nil, NewValidationError("GetNode", "NODE_NOT_FOUND", fmt.Sprintf("node %s not found", nodeID), ErrNodeNotFound)
	}

	return &workflow.Nodes[i], nil
}

// UpdateNode changes the name, data and position of a node. Its type is fixed.
func (n *Node) UpdateNode(ctx context.Context, workflowID, nodeID string, req *UpdateNodeRequest) (*models.Node, error) {
	workflow, err := n.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(workflow.Nodes, func(node models.Node) bool { return node.ID == nodeID })
	if i < 0 {
		return nil, NewValidationError("UpdateNode", "NODE_NOT_FOUND", fmt.Sprintf("node %s not found", nodeID), ErrNodeNotFound)
	}

	workflow.Nodes[i].Name = req.Name
	workflow.Nodes[i].Data = req.Data
	workflow.Nodes[i].PositionX = req.PositionX
	workflow.Nodes[i].PositionY = req.PositionY

	updated, err := n.workflows.Update(ctx, workflowID, workflow)
	if err != nil {
		return nil, err
	}

	return &updated.Nodes[i], nil
}

// DeleteNode removes a node and every edge touching it.
func (n *Node) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	workflow, err := n.editable(ctx, workflowID)
	if err != nil {
		return err
	}

	before := len(workflow.Nodes)
	workflow.Nodes = slices.DeleteFunc(workflow.Nodes, func(node models.Node) bool { return node.ID == nodeID })

	if len(workflow.Nodes) == before {
		return NewValidationError("DeleteNode", "NODE_NOT_FOUND", fmt.Sprintf("node %s not found", nodeID), ErrNodeNotFound)
	}

	workflow.Edges = slices.DeleteFunc(workflow.Edges, func(edge models.Edge) bool {
		return edge.Source == nodeID || edge.Target == nodeID
	})

	_, err = n.workflows.Update(ctx, workflowID, workflow)

	return err
}
