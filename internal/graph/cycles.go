package graph

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// describeCycles names the nodes participating in dependency cycles, for the
// error message when topological ordering fails. The graph is mirrored into
// a gonum directed graph and Tarjan's algorithm reports the strongly
// connected components.
func (g *Graph) describeCycles() string {
	mirror := simple.NewDirectedGraph()
	for _, n := range g.vertices {
		mirror.AddNode(simple.Node(int64(n.id)))
	}
	for _, n := range g.vertices {
		for _, e := range n.edges {
			mirror.SetEdge(mirror.NewEdge(simple.Node(int64(n.id)), simple.Node(int64(e.id))))
		}
	}

	var parts []string
	for _, scc := range topo.TarjanSCC(mirror) {
		if len(scc) < 2 {
			continue
		}
		ids := make([]uint64, 0, len(scc))
		for _, n := range scc {
			ids = append(ids, uint64(n.ID()))
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = fmt.Sprint(id)
		}
		parts = append(parts, "["+strings.Join(strs, ",")+"]")
	}
	if len(parts) == 0 {
		return "cycle members could not be determined"
	}
	return "nodes " + strings.Join(parts, " ")
}
