// Package scheduler assigns each node of a frozen topological order to one
// of up to W parallel execution queues and records where cross-queue
// synchronization barriers are required. The assignment is deterministic for
// a fixed order, which packet capture and replay depend on.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/accelgraph/accelgraph/internal/graph"
)

// Wait is one cross-queue barrier: before the owning node runs, its queue
// must wait for everything submitted to Queue up to that point.
type Wait struct {
	// Queue is the foreign queue index to wait on.
	Queue int
	// After is the dependency that forced the barrier, the latest one from
	// that queue in topological order.
	After graph.NodeID
}

// Plan is the scheduler's output for one topological order.
type Plan struct {
	// QueueOf[i] is the queue index of the i-th node in the order.
	QueueOf []int
	// WaitsFor[i] lists the barriers required before the i-th node.
	WaitsFor [][]Wait
	// Width is the number of queues the plan actually uses.
	Width int
}

// Barriers returns the total number of cross-queue waits in the plan.
func (p *Plan) Barriers() int {
	total := 0
	for _, ws := range p.WaitsFor {
		total += len(ws)
	}
	return total
}

// Option configures Build.
type Option func(*options)

type options struct {
	anyOrderSiblings bool
}

// WithAnyOrderSiblings lets single-dependency siblings spread to fresh
// queues even when their dependency's queue tail is free. It is a
// performance hint, never required for correctness.
func WithAnyOrderSiblings() Option {
	return func(o *options) { o.anyOrderSiblings = true }
}

// Build assigns queue indices in [0, width) to the given topological order.
// A node lands on a dependency's queue when that dependency is the current
// tail of its queue, which needs no barrier; otherwise the node takes the
// next queue round-robin and records one wait per foreign queue carrying an
// unsatisfied dependency. Roots round-robin across the first width queues.
// Width 1 degenerates to fully sequential execution with no barriers.
func Build(order []*graph.Node, width int, opts ...Option) (*Plan, error) {
	if width < 1 {
		return nil, fmt.Errorf("scheduler: width must be at least 1, got %d", width)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	plan := &Plan{
		QueueOf:  make([]int, len(order)),
		WaitsFor: make([][]Wait, len(order)),
	}

	pos := make(map[*graph.Node]int, len(order)) // node -> topological index
	tail := make([]*graph.Node, width)           // last node assigned per queue
	// synced[a][b] is the topological index up to which queue a has already
	// waited on queue b; barriers below it are redundant.
	synced := make([][]int, width)
	for i := range synced {
		synced[i] = make([]int, width)
		for j := range synced[i] {
			synced[i][j] = -1
		}
	}

	next := 0 // round-robin cursor
	maxUsed := 0

	for i, n := range order {
		pos[n] = i
		deps := n.Dependencies()

		q := -1
		if len(deps) > 0 && !(o.anyOrderSiblings && len(deps) == 1) {
			// Prefer a queue whose tail is one of our dependencies: program
			// order already covers the edge.
			for _, d := range deps {
				dq := plan.QueueOf[pos[d]]
				if tail[dq] == d {
					q = dq
					break
				}
			}
		}
		if q == -1 {
			q = next % width
			next++
		}
		plan.QueueOf[i] = q
		if q+1 > maxUsed {
			maxUsed = q + 1
		}

		// One wait per foreign queue, on the latest dependency from it.
		latest := make(map[int]*graph.Node)
		for _, d := range deps {
			dq := plan.QueueOf[pos[d]]
			if dq == q {
				continue
			}
			if cur, ok := latest[dq]; !ok || pos[d] > pos[cur] {
				latest[dq] = d
			}
		}
		foreign := make([]int, 0, len(latest))
		for dq := range latest {
			foreign = append(foreign, dq)
		}
		sort.Ints(foreign)
		for _, dq := range foreign {
			d := latest[dq]
			if synced[q][dq] >= pos[d] {
				continue
			}
			plan.WaitsFor[i] = append(plan.WaitsFor[i], Wait{Queue: dq, After: d.ID()})
			synced[q][dq] = pos[d]
		}

		tail[q] = n
	}

	plan.Width = maxUsed
	if plan.Width == 0 {
		plan.Width = 1
	}
	return plan, nil
}
