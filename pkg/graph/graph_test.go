package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id, typ string) models.Node {
	return models.Node{ID: id, Type: typ}
}

func edge(source, target string) models.Edge {
	return models.Edge{ID: source + "->" + target, Source: source, Target: target}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []models.Node
		edges    []models.Edge
		wantKind ErrorKind
		wantNode string
	}{
		{
			name:  "linear",
			nodes: []models.Node{node("t", "trigger"), node("d", "delay"), node("e", "sendEmail")},
			edges: []models.Edge{edge("t", "d"), edge("d", "e")},
		},
		{
			name:  "diamond",
			nodes: []models.Node{node("t", "trigger"), node("a", "action"), node("b", "action"), node("j", "score")},
			edges: []models.Edge{edge("t", "a"), edge("t", "b"), edge("a", "j"), edge("b", "j")},
		},
		{
			name:     "missing trigger",
			nodes:    []models.Node{node("a", "action")},
			wantKind: ErrMissingTrigger,
		},
		{
			name:     "multiple triggers",
			nodes:    []models.Node{node("t1", "trigger"), node("t2", "trigger")},
			wantKind: ErrMultipleTriggers,
			wantNode: "t2",
		},
		{
			name:     "cycle",
			nodes:    []models.Node{node("t", "trigger"), node("a", "action"), node("b", "action")},
			edges:    []models.Edge{edge("t", "a"), edge("a", "b"), edge("b", "a")},
			wantKind: ErrCycle,
		},
		{
			name:     "self loop",
			nodes:    []models.Node{node("t", "trigger"), node("a", "action")},
			edges:    []models.Edge{edge("t", "a"), edge("a", "a")},
			wantKind: ErrCycle,
			wantNode: "a",
		},
		{
			name:     "dangling edge",
			nodes:    []models.Node{node("t", "trigger")},
			edges:    []models.Edge{edge("t", "ghost")},
			wantKind: ErrDanglingEdge,
			wantNode: "ghost",
		},
		{
			name:     "unreachable",
			nodes:    []models.Node{node("t", "trigger"), node("a", "action"), node("island", "action")},
			edges:    []models.Edge{edge("t", "a")},
			wantKind: ErrUnreachable,
			wantNode: "island",
		},
		{
			name:     "duplicate node",
			nodes:    []models.Node{node("t", "trigger"), node("t", "action")},
			wantKind: ErrDuplicateNode,
			wantNode: "t",
		},
		{
			name:     "empty node id",
			nodes:    []models.Node{node("", "trigger")},
			wantKind: ErrEmptyNodeID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Validate(tt.nodes, tt.edges)

			if tt.wantKind == "" {
				require.NoError(t, err)
				require.NotNil(t, g)
				assert.Equal(t, tt.nodes[0].ID, g.Trigger().ID)

				return
			}

			require.Error(t, err)
			assert.Nil(t, g)

			var graphErr *Error
			require.True(t, errors.As(err, &graphErr))
			assert.Equal(t, tt.wantKind, graphErr.Kind)
			assert.ErrorIs(t, err, &Error{Kind: tt.wantKind})

			if tt.wantNode != "" {
				assert.Equal(t, tt.wantNode, graphErr.NodeID)
			}
		})
	}
}

func TestGraph_Successors(t *testing.T) {
	nodes := []models.Node{node("t", "trigger"), node("c", "condition"), node("yes", "action"), node("no", "action")}
	edges := []models.Edge{
		edge("t", "c"),
		{ID: "e2", Source: "c", Target: "no", Label: "false"},
		{ID: "e3", Source: "c", Target: "yes", Label: "true"},
	}

	g, err := Validate(nodes, edges)
	require.NoError(t, err)

	assert.Equal(t, []string{"no", "yes"}, g.Successors("c"))
	assert.Equal(t, []string{"c"}, g.Successors("t"))
	assert.Empty(t, g.Successors("yes"))
	assert.Nil(t, g.Successors("unknown"))

	outgoing := g.Outgoing("c")
	require.Len(t, outgoing, 2)
	assert.Equal(t, "false", outgoing[0].Label)
	assert.Equal(t, "true", outgoing[1].Label)

	assert.ElementsMatch(t, []string{"c", "yes", "no"}, g.Descendants("t"))
}

func TestGraph_SuccessorsAreStable(t *testing.T) {
	nodes := []models.Node{node("t", "trigger")}
	edges := make([]models.Edge, 0, 10)
	want := make([]string, 0, 10)

	for i := range 10 {
		id := fmt.Sprintf("n%d", i)
		nodes = append(nodes, node(id, "action"))
		edges = append(edges, edge("t", id))
		want = append(want, id)
	}

	g, err := Validate(nodes, edges)
	require.NoError(t, err)

	for range 5 {
		assert.Equal(t, want, g.Successors("t"))
	}
}

// Random layered DAGs are always accepted; adding a back edge always yields a cycle.
func TestValidate_RandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iteration := range 50 {
		size := 2 + rng.Intn(12)
		nodes := []models.Node{node("n0", "trigger")}
		var edges []models.Edge

		for i := 1; i < size; i++ {
			id := fmt.Sprintf("n%d", i)
			nodes = append(nodes, node(id, "action"))

			parent := rng.Intn(i)
			edges = append(edges, edge(fmt.Sprintf("n%d", parent), id))

			if extra := rng.Intn(i); extra != parent {
				edges = append(edges, edge(fmt.Sprintf("n%d", extra), id))
			}
		}

		_, err := Validate(nodes, edges)
		require.NoError(t, err, "iteration %d", iteration)

		last := fmt.Sprintf("n%d", size-1)
		cyclic := append(append([]models.Edge(nil), edges...), edge(last, "n0"))

		_, err = Validate(nodes, cyclic)
		require.ErrorIs(t, err, &Error{Kind: ErrCycle}, "iteration %d", iteration)
	}
}
