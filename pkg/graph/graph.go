// Package graph validates a workflow's flat node and edge collections and builds the
// adjacency structure the executor walks.
package graph

import (
	"github.com/dukex/automata/pkg/models"
)

// Graph is a validated workflow graph. Nodes are stored in definition order and edges refer to
// them by index; the structure is immutable after Validate returns.
type Graph struct {
	nodes    []models.Node
	edges    []models.Edge
	index    map[string]int
	outgoing [][]int // node index -> edge indexes, in edge definition order
	trigger  int
}

// Validate checks the structural invariants of a workflow graph: unique node ids, edges between
// known nodes, exactly one trigger, no cycles and every node reachable from the trigger.
func Validate(nodes []models.Node, edges []models.Edge) (*Graph, error) {
	g := &Graph{
		nodes:    nodes,
		edges:    edges,
		index:    make(map[string]int, len(nodes)),
		outgoing: make([][]int, len(nodes)),
		trigger:  -1,
	}

	for i, node := range nodes {
		if node.ID == "" {
			return nil, &Error{Kind: ErrEmptyNodeID}
		}

		if _, exists := g.index[node.ID]; exists {
			return nil, &Error{Kind: ErrDuplicateNode, NodeID: node.ID}
		}

		g.index[node.ID] = i
	}

	for i, edge := range edges {
		source, ok := g.index[edge.Source]
		if !ok {
			return nil, &Error{Kind: ErrDanglingEdge, EdgeID: edge.ID, NodeID: edge.Source}
		}

		if _, ok := g.index[edge.Target]; !ok {
			return nil, &Error{Kind: ErrDanglingEdge, EdgeID: edge.ID, NodeID: edge.Target}
		}

		g.outgoing[source] = append(g.outgoing[source], i)
	}

	for i, node := range nodes {
		if !node.IsTrigger() {
			continue
		}

		if g.trigger >= 0 {
			return nil, &Error{Kind: ErrMultipleTriggers, NodeID: node.ID}
		}

		g.trigger = i
	}

	if g.trigger < 0 {
		return nil, &Error{Kind: ErrMissingTrigger}
	}

	if cyclic, ok := g.findCycle(); ok {
		return nil, &Error{Kind: ErrCycle, NodeID: cyclic}
	}

	reachable := g.reach(g.trigger)
	for i, node := range nodes {
		if !reachable[i] {
			return nil, &Error{Kind: ErrUnreachable, NodeID: node.ID}
		}
	}

	return g, nil
}

// findCycle runs Kahn's algorithm; nodes left with a positive in-degree lie on or behind a cycle.
func (g *Graph) findCycle() (string, bool) {
	inDegree := make([]int, len(g.nodes))
	for _, edge := range g.edges {
		inDegree[g.index[edge.Target]]++
	}

	queue := make([]int, 0, len(g.nodes))
	for i, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++

		for _, e := range g.outgoing[current] {
			target := g.index[g.edges[e].Target]

			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if visited == len(g.nodes) {
		return "", false
	}

	for i, degree := range inDegree {
		if degree > 0 {
			return g.nodes[i].ID, true
		}
	}

	return "", false
}

func (g *Graph) reach(from int) []bool {
	seen := make([]bool, len(g.nodes))
	seen[from] = true

	stack := []int{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, e := range g.outgoing[current] {
			target := g.index[g.edges[e].Target]
			if !seen[target] {
				seen[target] = true
				stack = append(stack, target)
			}
		}
	}

	return seen
}

// Trigger returns the entry node of the graph.
func (g *Graph) Trigger() models.Node {
	return g.nodes[g.trigger]
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (models.Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return models.Node{}, false
	}

	return g.nodes[i], true
}

// Nodes returns the nodes in definition order.
func (g *Graph) Nodes() []models.Node {
	return append([]models.Node(nil), g.nodes...)
}

// Successors returns the targets of the outgoing edges of id in edge definition order. A target
// reached by two parallel edges appears once.
func (g *Graph) Successors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}

	successors := make([]string, 0, len(g.outgoing[i]))
	seen := make(map[string]struct{}, len(g.outgoing[i]))

	for _, e := range g.outgoing[i] {
		target := g.edges[e].Target
		if _, dup := seen[target]; dup {
			continue
		}

		seen[target] = struct{}{}
		successors = append(successors, target)
	}

	return successors
}

// Outgoing returns the outgoing edges of id in edge definition order.
func (g *Graph) Outgoing(id string) []models.Edge {
	i, ok := g.index[id]
	if !ok {
		return nil
	}

	out := make([]models.Edge, 0, len(g.outgoing[i]))
	for _, e := range g.outgoing[i] {
		out = append(out, g.edges[e])
	}

	return out
}

// Descendants returns every node id reachable from id, excluding id itself.
func (g *Graph) Descendants(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}

	seen := g.reach(i)

	var ids []string
	for j, reached := range seen {
		if reached && j != i {
			ids = append(ids, g.nodes[j].ID)
		}
	}

	return ids
}
