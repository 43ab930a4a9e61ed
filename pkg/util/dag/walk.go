package dag

import "iter"

// Descendants yields the nodes reachable from n through outgoing edges,
// excluding n. A node is yielded once, before any of its own children.
func (g *Graph[NodeType]) Descendants(n NodeType) iter.Seq[NodeType] {
	return g.reach(n, g.children)
}

// Ancestors returns the set of nodes from which n is reachable, excluding n.
func (g *Graph[NodeType]) Ancestors(n NodeType) map[NodeType]struct{} {
	seen := make(map[NodeType]struct{})
	for a := range g.reach(n, g.parents) {
		seen[a] = struct{}{}
	}
	return seen
}

// reach walks edges depth first starting at the neighbours of n.
func (g *Graph[NodeType]) reach(n NodeType, edges map[NodeType][]NodeType) iter.Seq[NodeType] {
	return func(yield func(NodeType) bool) {
		seen := nodeSet[NodeType]{n: {}}
		stack := reversed(edges[n])
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen.Contains(cur) {
				continue
			}
			seen.Add(cur)
			if !yield(cur) {
				return
			}
			stack = append(stack, reversed(edges[cur])...)
		}
	}
}

// reversed returns a reversed copy of nodes so that popping a stack visits
// them in insertion order.
func reversed[NodeType Node](nodes []NodeType) []NodeType {
	out := make([]NodeType, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}
