// Package promptset loads prompt-set documents and exposes the prompt
// dependency graph they describe. A prompt set is a YAML document with a
// `prompts` mapping (section title → prompt) and a `prompt_dag` list of
// chain literals ("1 -> 2 -> 4") over prompt ids.
package promptset

import (
	"fmt"
	"sort"
)

// Prompt is one node of the graph. Immutable for the lifetime of a run.
type Prompt struct {
	ID           int
	SectionTitle string
	Text         string
	System       bool
}

// Graph is a validated, immutable DAG over prompt ids.
type Graph struct {
	prompts map[int]Prompt
	succ    map[int][]int
	pred    map[int][]int
	topo    []int
}

// Prompt returns the prompt for id, or false if the id is unknown.
func (g *Graph) Prompt(id int) (Prompt, bool) {
	p, ok := g.prompts[id]
	return p, ok
}

// Len returns the number of prompts in the graph.
func (g *Graph) Len() int {
	return len(g.prompts)
}

// NodeIDs returns all prompt ids in ascending order.
func (g *Graph) NodeIDs() []int {
	ids := make([]int, 0, len(g.prompts))
	for id := range g.prompts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// TopologicalOrder returns the node ids in a deterministic topological
// order: Kahn's algorithm with ascending-id tie-break, so independent runs
// schedule nodes identically.
func (g *Graph) TopologicalOrder() []int {
	out := make([]int, len(g.topo))
	copy(out, g.topo)
	return out
}

// Predecessors returns the direct parents of id, ascending.
func (g *Graph) Predecessors(id int) []int {
	out := make([]int, len(g.pred[id]))
	copy(out, g.pred[id])
	return out
}

// Successors returns the direct children of id, ascending.
func (g *Graph) Successors(id int) []int {
	out := make([]int, len(g.succ[id]))
	copy(out, g.succ[id])
	return out
}

// Ancestors returns the set of transitive predecessors of id.
func (g *Graph) Ancestors(id int) map[int]struct{} {
	seen := make(map[int]struct{})
	stack := append([]int(nil), g.pred[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, g.pred[n]...)
	}
	return seen
}

// Edges returns every (source, target) pair, ordered by source then target.
func (g *Graph) Edges() [][2]int {
	var edges [][2]int
	for _, src := range g.NodeIDs() {
		for _, dst := range g.succ[src] {
			edges = append(edges, [2]int{src, dst})
		}
	}
	return edges
}

// newGraph validates the parsed prompts and edges and builds the graph.
func newGraph(prompts map[int]Prompt, edges [][2]int) (*Graph, error) {
	g := &Graph{
		prompts: prompts,
		succ:    make(map[int][]int, len(prompts)),
		pred:    make(map[int][]int, len(prompts)),
	}

	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := prompts[e[0]]; !ok {
			return nil, fmt.Errorf("%w: %d -> %d (source)", ErrDanglingEdge, e[0], e[1])
		}
		if _, ok := prompts[e[1]]; !ok {
			return nil, fmt.Errorf("%w: %d -> %d (target)", ErrDanglingEdge, e[0], e[1])
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.succ[e[0]] = append(g.succ[e[0]], e[1])
		g.pred[e[1]] = append(g.pred[e[1]], e[0])
	}
	for id := range g.succ {
		sort.Ints(g.succ[id])
	}
	for id := range g.pred {
		sort.Ints(g.pred[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}

	g.topo = g.kahnOrder()
	return g, nil
}

const (
	white = iota // unvisited
	gray         // on the current DFS path
	black        // fully explored
)

// findCycle runs a three-color DFS and returns one offending path, or nil.
func (g *Graph) findCycle() []int {
	color := make(map[int]int, len(g.prompts))
	var path []int

	var visit func(id int) []int
	visit = func(id int) []int {
		color[id] = gray
		path = append(path, id)
		for _, next := range g.succ[id] {
			switch color[next] {
			case gray:
				// Back edge: slice the path from the first occurrence of next.
				for i, n := range path {
					if n == next {
						return append(append([]int(nil), path[i:]...), next)
					}
				}
				return []int{next, id, next}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// kahnOrder produces the deterministic topological order. The graph is
// already known to be acyclic.
func (g *Graph) kahnOrder() []int {
	indeg := make(map[int]int, len(g.prompts))
	for id := range g.prompts {
		indeg[id] = len(g.pred[id])
	}

	var ready []int
	for _, id := range g.NodeIDs() {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]int, 0, len(g.prompts))
	for len(ready) > 0 {
		// Ascending-id tie-break.
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range g.succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
