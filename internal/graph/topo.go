package graph

import (
	"container/heap"
	"fmt"
)

// nodeHeap is a min-heap ordered by NodeID, giving Kahn's algorithm its
// deterministic tie-break: among simultaneously-ready nodes, insertion order
// wins.
type nodeHeap []*Node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(*Node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// TopologicalOrder returns the graph's nodes in an order consistent with
// every dependency edge, using Kahn's algorithm. The returned order is
// deterministic for a fixed graph. Fails with ErrCycle when the dependency
// relation is not acyclic, naming the nodes involved.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	if g.destroyed {
		return nil, ErrDestroyed
	}

	remaining := make(map[*Node]int, len(g.vertices))
	ready := &nodeHeap{}
	for _, n := range g.vertices {
		remaining[n] = n.inDegree
		if n.inDegree == 0 {
			heap.Push(ready, n)
		}
	}

	order := make([]*Node, 0, len(g.vertices))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*Node)
		order = append(order, n)
		for _, e := range n.edges {
			remaining[e]--
			if remaining[e] == 0 {
				heap.Push(ready, e)
			}
		}
	}

	if len(order) < len(g.vertices) {
		return nil, fmt.Errorf("%w: %s", ErrCycle, g.describeCycles())
	}
	return order, nil
}
