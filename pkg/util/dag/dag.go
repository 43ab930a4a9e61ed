// Package dag provides a generic directed acyclic graph.
//
// Edges point from a parent to a child. In a task graph the parent is the
// producer of a result and the child is its consumer.
package dag

import "fmt"

// Node is the constraint for values stored in a Graph.
type Node interface {
	comparable
}

// Edge is a directed edge from Parent to Child.
type Edge[NodeType Node] struct {
	Parent, Child NodeType
}

type nodeSet[NodeType Node] map[NodeType]struct{}

func (s nodeSet[NodeType]) Add(n NodeType)           { s[n] = struct{}{} }
func (s nodeSet[NodeType]) Contains(n NodeType) bool { _, ok := s[n]; return ok }

// Graph is a directed acyclic graph. Nodes and edges are kept in insertion
// order so that traversals are deterministic. The zero value is ready to use.
type Graph[NodeType Node] struct {
	order    []NodeType
	nodes    nodeSet[NodeType]
	parents  map[NodeType][]NodeType
	children map[NodeType][]NodeType
}

// Add adds n to the graph. Adding an existing node is a no-op.
func (g *Graph[NodeType]) Add(n NodeType) {
	g.init()
	if g.nodes.Contains(n) {
		return
	}
	g.nodes.Add(n)
	g.order = append(g.order, n)
}

// AddEdge adds an edge between two nodes already in the graph. AddEdge
// returns an error if either node is missing or if the edge would introduce a
// cycle.
func (g *Graph[NodeType]) AddEdge(e Edge[NodeType]) error {
	g.init()
	if !g.nodes.Contains(e.Parent) {
		return fmt.Errorf("parent node %v does not exist in graph", e.Parent)
	}
	if !g.nodes.Contains(e.Child) {
		return fmt.Errorf("child node %v does not exist in graph", e.Child)
	}
	if e.Parent == e.Child || g.reachable(e.Child, e.Parent) {
		return fmt.Errorf("edge %v -> %v introduces a cycle", e.Parent, e.Child)
	}

	g.children[e.Parent] = append(g.children[e.Parent], e.Child)
	g.parents[e.Child] = append(g.parents[e.Child], e.Parent)
	return nil
}

func (g *Graph[NodeType]) init() {
	if g.nodes == nil {
		g.nodes = make(nodeSet[NodeType])
		g.parents = make(map[NodeType][]NodeType)
		g.children = make(map[NodeType][]NodeType)
	}
}

// reachable reports whether to can be reached from from.
func (g *Graph[NodeType]) reachable(from, to NodeType) bool {
	for n := range g.Descendants(from) {
		if n == to {
			return true
		}
	}
	return false
}

// Len returns the number of nodes in the graph.
func (g *Graph[NodeType]) Len() int { return len(g.order) }

// Nodes returns all nodes in insertion order.
func (g *Graph[NodeType]) Nodes() []NodeType {
	return append([]NodeType(nil), g.order...)
}

// Contains reports whether n is in the graph.
func (g *Graph[NodeType]) Contains(n NodeType) bool { return g.nodes.Contains(n) }

// Parents returns the direct parents of n.
func (g *Graph[NodeType]) Parents(n NodeType) []NodeType { return g.parents[n] }

// Children returns the direct children of n.
func (g *Graph[NodeType]) Children(n NodeType) []NodeType { return g.children[n] }

// Roots returns all nodes without parents.
func (g *Graph[NodeType]) Roots() []NodeType {
	var roots []NodeType
	for _, n := range g.order {
		if len(g.parents[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Leaves returns all nodes without children.
func (g *Graph[NodeType]) Leaves() []NodeType {
	var leaves []NodeType
	for _, n := range g.order {
		if len(g.children[n]) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// TopologicalSort returns the nodes ordered so that every parent comes before
// its children. Ties are broken by insertion order.
func (g *Graph[NodeType]) TopologicalSort() []NodeType {
	inDegree := make(map[NodeType]int, len(g.order))
	for _, n := range g.order {
		inDegree[n] = len(g.parents[n])
	}

	var (
		queue  []NodeType
		sorted = make([]NodeType, 0, len(g.order))
	)
	for _, n := range g.order {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)

		for _, child := range g.children[n] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return sorted
}
