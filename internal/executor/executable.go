// Package executor turns a graph into a frozen, replayable executable and
// drives its repeated launch across the scheduled queue pool. The first
// launch builds real device commands and captures their hardware packets;
// subsequent launches resubmit the captured packets directly, which is the
// engine's central performance optimization.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/accelgraph/accelgraph/internal/ctxlog"
	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/graph"
	"github.com/accelgraph/accelgraph/internal/registry"
	"github.com/accelgraph/accelgraph/internal/scheduler"
)

var (
	// ErrNotInstantiated is returned when an executable has been destroyed
	// or never finished instantiation.
	ErrNotInstantiated = errors.New("executable is not instantiated")
	// ErrUnknownNode is returned when a node handle does not map into the
	// executable's clone.
	ErrUnknownNode = errors.New("node does not belong to the instantiated graph")
)

// DefaultWidth is the queue-pool width used when the caller does not ask
// for a specific degree of overlap.
const DefaultWidth = 4

// Options configures instantiation.
type Options struct {
	// Width is the maximum number of parallel queues. Zero means
	// DefaultWidth; 1 degenerates to sequential execution.
	Width int
	// Capture enables hardware-packet capture on the first launch and
	// replay on subsequent ones.
	Capture bool
	// AnyOrderSiblings forwards the scheduler's optional spreading hint.
	AnyOrderSiblings bool
}

// Executable is the frozen, launchable form of a graph.
type Executable struct {
	id  uuid.UUID
	dev device.Device

	source  *graph.Graph
	clone   *graph.Graph
	nodeMap map[*graph.Node]*graph.Node

	order []*graph.Node
	plan  *scheduler.Plan

	queues  []device.Queue
	entryEv device.Event
	exitEvs []device.Event
	// barrierEvs[i][j] realizes plan.WaitsFor[i][j]; events are created once
	// and re-armed every launch.
	barrierEvs [][]device.Event

	capture    bool
	arena      []byte
	hiddenHeap bool

	launchSeq atomic.Uint64
	// launchMu serializes launches; the shared queue pool cannot host two
	// interleaved submission walks.
	launchMu sync.Mutex

	destroyed atomic.Bool
}

// Instantiate validates g, freezes its topological order, schedules it
// across a queue pool, and returns a launchable executable. It fails fast:
// on any error nothing is retained.
func Instantiate(ctx context.Context, g *graph.Graph, opts Options) (*Executable, error) {
	logger := ctxlog.FromContext(ctx)
	if g == nil || !registry.Graphs.IsAlive(g) {
		return nil, fmt.Errorf("%w: graph", graph.ErrInvalidHandle)
	}
	width := opts.Width
	if width == 0 {
		width = DefaultWidth
	}

	clone, nodeMap, err := g.CloneWithMap()
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	abort := func() { _ = clone.Destroy() }

	clone.MarkInstantiated()

	for _, n := range clone.Nodes() {
		if err := n.Validate(); err != nil {
			abort()
			return nil, fmt.Errorf("instantiate: node %d: %w", n.ID(), err)
		}
	}

	order, err := clone.TopologicalOrder()
	if err != nil {
		abort()
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	var schedOpts []scheduler.Option
	if opts.AnyOrderSiblings {
		schedOpts = append(schedOpts, scheduler.WithAnyOrderSiblings())
	}
	plan, err := scheduler.Build(order, width, schedOpts...)
	if err != nil {
		abort()
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	e := &Executable{
		id:      uuid.New(),
		dev:     g.Device(),
		source:  g,
		clone:   clone,
		nodeMap: nodeMap,
		order:   order,
		plan:    plan,
		capture: opts.Capture,
	}

	for i := 0; i < plan.Width; i++ {
		q, err := e.dev.CreateQueue()
		if err != nil {
			e.releaseQueues()
			abort()
			return nil, fmt.Errorf("instantiate: queue pool: %w", err)
		}
		e.queues = append(e.queues, q)
	}

	if e.entryEv, err = e.dev.CreateEvent(); err != nil {
		e.releaseQueues()
		abort()
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	for range e.queues {
		ev, err := e.dev.CreateEvent()
		if err != nil {
			e.releaseQueues()
			abort()
			return nil, fmt.Errorf("instantiate: %w", err)
		}
		e.exitEvs = append(e.exitEvs, ev)
	}
	e.barrierEvs = make([][]device.Event, len(order))
	for i, waits := range plan.WaitsFor {
		for range waits {
			ev, err := e.dev.CreateEvent()
			if err != nil {
				e.releaseQueues()
				abort()
				return nil, fmt.Errorf("instantiate: %w", err)
			}
			e.barrierEvs[i] = append(e.barrierEvs[i], ev)
		}
	}

	if e.capture {
		total := 0
		for _, n := range order {
			total += n.KernelArgBytes()
		}
		if total > 0 {
			// One shared argument arena keeps captured packets pointing at
			// storage with executable lifetime.
			e.arena = make([]byte, total)
			off := 0
			for _, n := range order {
				off += n.MoveArgsToArena(e.arena[off:])
			}
		}
	}

	for _, n := range order {
		if p, ok := n.KernelParams(); ok && p.Fn.HiddenHeap() {
			e.hiddenHeap = true
			break
		}
	}

	registry.Executables.Register(e)
	logger.Debug("Graph instantiated.",
		"executable", e.id.String(),
		"nodes", len(order),
		"queues", plan.Width,
		"barriers", plan.Barriers(),
		"capture", e.capture,
	)
	return e, nil
}

// ID returns the executable's identity.
func (e *Executable) ID() uuid.UUID { return e.id }

// Width returns the size of the execution queue pool.
func (e *Executable) Width() int { return e.plan.Width }

// LaunchCount returns the number of launches driven so far.
func (e *Executable) LaunchCount() uint64 { return e.launchSeq.Load() }

// HasHiddenHeap reports whether any kernel in the graph requires the
// implicit device heap.
func (e *Executable) HasHiddenHeap() bool { return e.hiddenHeap }

// CaptureEnabled reports whether packet capture mode is active.
func (e *Executable) CaptureEnabled() bool { return e.capture }

// GetClonedNode maps a node of the original graph to its counterpart inside
// the executable's frozen clone.
func (e *Executable) GetClonedNode(orig *graph.Node) (*graph.Node, error) {
	if e.destroyed.Load() {
		return nil, ErrNotInstantiated
	}
	if orig == nil || !registry.Nodes.IsAlive(orig) {
		return nil, fmt.Errorf("%w: node", graph.ErrInvalidHandle)
	}
	n, ok := e.nodeMap[orig]
	if !ok {
		return nil, ErrUnknownNode
	}
	return n, nil
}

// Destroy releases the executable's queues, events, and packet caches.
func (e *Executable) Destroy() error {
	if !e.destroyed.CompareAndSwap(false, true) {
		return ErrNotInstantiated
	}
	e.launchMu.Lock()
	defer e.launchMu.Unlock()
	e.releaseQueues()
	if e.entryEv != nil {
		e.entryEv.Release()
	}
	for _, ev := range e.exitEvs {
		ev.Release()
	}
	for _, evs := range e.barrierEvs {
		for _, ev := range evs {
			ev.Release()
		}
	}
	registry.Executables.Unregister(e)
	return e.clone.Destroy()
}

func (e *Executable) releaseQueues() {
	for _, q := range e.queues {
		q.Release()
	}
	e.queues = nil
}
