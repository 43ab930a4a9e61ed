package dag

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDiamond(t *testing.T) *Graph[string] {
	t.Helper()

	var g Graph[string]
	for _, n := range []string{"create", "double", "left", "right"} {
		g.Add(n)
	}
	require.NoError(t, g.AddEdge(Edge[string]{Parent: "create", Child: "double"}))
	require.NoError(t, g.AddEdge(Edge[string]{Parent: "double", Child: "left"}))
	require.NoError(t, g.AddEdge(Edge[string]{Parent: "double", Child: "right"}))
	return &g
}

func TestGraph(t *testing.T) {
	g := buildDiamond(t)

	require.Equal(t, 4, g.Len())
	require.Equal(t, []string{"create"}, g.Roots())
	require.Equal(t, []string{"left", "right"}, g.Leaves())
	require.Equal(t, []string{"double"}, g.Parents("left"))
	require.Equal(t, []string{"left", "right"}, g.Children("double"))
	require.Equal(t, map[string]struct{}{"create": {}, "double": {}}, g.Ancestors("right"))
}

func TestGraph_AddEdge(t *testing.T) {
	t.Run("missing nodes", func(t *testing.T) {
		var g Graph[int]
		g.Add(1)
		require.ErrorContains(t, g.AddEdge(Edge[int]{Parent: 1, Child: 2}), "child node 2 does not exist")
		require.ErrorContains(t, g.AddEdge(Edge[int]{Parent: 3, Child: 1}), "parent node 3 does not exist")
	})

	t.Run("cycles are rejected", func(t *testing.T) {
		g := buildDiamond(t)
		require.ErrorContains(t, g.AddEdge(Edge[string]{Parent: "left", Child: "create"}), "introduces a cycle")
		require.ErrorContains(t, g.AddEdge(Edge[string]{Parent: "left", Child: "left"}), "introduces a cycle")
	})
}

func TestGraph_TopologicalSort(t *testing.T) {
	var g Graph[string]
	for _, n := range []string{"out", "b", "a"} {
		g.Add(n)
	}
	require.NoError(t, g.AddEdge(Edge[string]{Parent: "a", Child: "out"}))
	require.NoError(t, g.AddEdge(Edge[string]{Parent: "b", Child: "out"}))

	require.Equal(t, []string{"b", "a", "out"}, g.TopologicalSort())
}

func TestGraph_Descendants(t *testing.T) {
	g := buildDiamond(t)

	var got []string
	for n := range g.Descendants("create") {
		got = append(got, n)
	}
	require.Equal(t, []string{"double", "left", "right"}, got)

	var first []string
	for n := range g.Descendants("create") {
		first = append(first, n)
		break
	}
	require.Equal(t, []string{"double"}, first)
	require.Empty(t, slices.Collect(g.Descendants("left")))
}
