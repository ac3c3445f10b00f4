package formulaengine

import (
	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"
)

// cyclePass runs cycle detection and, for the acyclic remainder, a
// topological ordering over a set of dependency edges discovered during one
// evaluateCell pass.
//
// This is grounded on github.com/katalvlaran/lvlath: DetectCycles performs
// three-color DFS simple-cycle enumeration (not literally Tarjan's SCC
// algorithm, which the design notes merely suggest as a preference). A node
// is a "cycle participant" if it appears in any reported cycle; the
// transitive closure of "depends on a participant" is computed on top of
// the library's output by our own repeated sweep below
// (propagateCycleMembership), since lvlath reports simple
// cycles, not SCC membership or dependents. See DESIGN.md for the fuller
// rationale.
type cyclePass struct {
	order          []NodeKey   // topological order of the acyclic remainder, leaves first
	cycleMembers   map[NodeKey]bool
}

// edges maps a node to the set of nodes it depends on (its precedents).
func runCyclePass(edges map[NodeKey]map[NodeKey]struct{}) (*cyclePass, error) {
	g := core.NewGraph(core.WithDirected(true))

	for from := range edges {
		if err := ensureVertex(g, from); err != nil {
			return nil, err
		}
	}
	for from, tos := range edges {
		for to := range tos {
			if err := ensureVertex(g, to); err != nil {
				return nil, err
			}
			// An edge from->to means "from depends on to": to must be
			// evaluated first, so the edge points from precedent to
			// dependent for topological purposes. lvlath's TopologicalSort
			// returns sources-first order along directed edges, so we add
			// the edge to -> from (precedent -> dependent).
			if _, err := g.AddEdge(string(to), string(from), 1); err != nil {
				return nil, err
			}
		}
	}

	hasCycle, cycles, err := dfs.DetectCycles(g)
	if err != nil {
		return nil, err
	}

	members := make(map[NodeKey]bool)
	if hasCycle {
		for _, cyc := range cycles {
			for _, v := range cyc {
				members[NodeKey(v)] = true
			}
		}
		propagateCycleMembership(edges, members)
	}

	var order []NodeKey
	if !hasCycle {
		sorted, terr := dfs.TopologicalSort(g)
		if terr != nil {
			return nil, terr
		}
		for _, v := range sorted {
			order = append(order, NodeKey(v))
		}
	} else {
		// Acyclic remainder: build a reduced edge set excluding cycle
		// participants and topologically sort that.
		reduced := core.NewGraph(core.WithDirected(true))
		for from, tos := range edges {
			if members[from] {
				continue
			}
			if err := ensureVertex(reduced, from); err != nil {
				return nil, err
			}
			for to := range tos {
				if members[to] {
					continue
				}
				if err := ensureVertex(reduced, to); err != nil {
					return nil, err
				}
				if _, err := reduced.AddEdge(string(to), string(from), 1); err != nil {
					return nil, err
				}
			}
		}
		sorted, terr := dfs.TopologicalSort(reduced)
		if terr != nil {
			return nil, terr
		}
		for _, v := range sorted {
			order = append(order, NodeKey(v))
		}
	}

	return &cyclePass{order: order, cycleMembers: members}, nil
}

func ensureVertex(g *core.Graph, id NodeKey) error {
	if g.HasVertex(string(id)) {
		return nil
	}
	return g.AddVertex(string(id))
}

// propagateCycleMembership marks every node that transitively depends on a
// cycle participant, directly or indirectly, as itself a cycle member.
func propagateCycleMembership(edges map[NodeKey]map[NodeKey]struct{}, members map[NodeKey]bool) {
	changed := true
	for changed {
		changed = false
		for from, tos := range edges {
			if members[from] {
				continue
			}
			for to := range tos {
				if members[to] {
					members[from] = true
					changed = true
					break
				}
			}
		}
	}
}
