// Package graph holds the mutable DAG model of device work: nodes, edges,
// topological ordering, cloning, user-object ownership, and DOT export. It
// knows how to build and submit device commands for each node kind but leaves
// scheduling and launch orchestration to the sched and exec packages.
package graph

import (
	"sync/atomic"

	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/registry"
)

// NodeID is a process-unique, monotonically increasing node identifier,
// assigned at construction. IDs double as the deterministic tie-breaker in
// topological ordering.
type NodeID uint64

var nodeSeq atomic.Uint64

func nextNodeID() NodeID { return NodeID(nodeSeq.Add(1)) }

// Kind tags a node's operation. The set is closed; per-kind behavior is
// dispatched by switching on the tag.
type Kind int

const (
	KindEmpty Kind = iota
	KindKernel
	KindMemcpy
	KindMemcpyToSymbol
	KindMemcpyFromSymbol
	KindMemcpy3D
	KindMemset
	KindHost
	KindEventRecord
	KindEventWait
	KindMemAlloc
	KindMemFree
	KindChildGraph
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindKernel:
		return "kernel"
	case KindMemcpy:
		return "memcpy"
	case KindMemcpyToSymbol:
		return "memcpy_to_symbol"
	case KindMemcpyFromSymbol:
		return "memcpy_from_symbol"
	case KindMemcpy3D:
		return "memcpy3d"
	case KindMemset:
		return "memset"
	case KindHost:
		return "host"
	case KindEventRecord:
		return "event_record"
	case KindEventWait:
		return "event_wait"
	case KindMemAlloc:
		return "mem_alloc"
	case KindMemFree:
		return "mem_free"
	case KindChildGraph:
		return "child_graph"
	}
	return "unknown"
}

// Node is one unit of device work plus its position in the DAG. Exactly one
// payload field is set, matching the kind.
type Node struct {
	id      NodeID
	kind    Kind
	enabled bool
	owner   *Graph
	// original points at the source node when this node was produced by a
	// graph clone.
	original *Node

	deps      []*Node // nodes that must complete first
	edges     []*Node // nodes that depend on this one
	inDegree  int
	outDegree int

	// commands built for the current launch; cleared by CreateCommands.
	commands []device.Command
	// packets captured from the first launch for replay.
	packets      []device.Packet
	packetsValid bool
	capturedName string

	kernel   *KernelParams
	memcpy   *MemcpyParams
	memcpy3D *Memcpy3DParams
	memset   *MemsetParams
	host     *HostParams
	event    *EventParams
	memAlloc *MemAllocParams
	memFree  *MemFreeParams
	child    *Graph
}

func newNode(kind Kind) *Node {
	return &Node{id: nextNodeID(), kind: kind, enabled: true}
}

// ID returns the node's process-unique identifier.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the node's operation tag.
func (n *Node) Kind() Kind { return n.kind }

// Enabled reports whether the node performs work when launched. Disabled
// nodes degrade to ordering markers.
func (n *Node) Enabled() bool { return n.enabled }

// Graph returns the owning graph.
func (n *Node) Graph() *Graph { return n.owner }

// Original returns the node this one was cloned from, or nil.
func (n *Node) Original() *Node { return n.original }

// InDegree returns the cached dependency count. Zero means root.
func (n *Node) InDegree() int { return n.inDegree }

// OutDegree returns the cached dependent count. Zero means leaf.
func (n *Node) OutDegree() int { return n.outDegree }

// Dependencies returns a copy of the nodes that must complete before this one.
func (n *Node) Dependencies() []*Node {
	out := make([]*Node, len(n.deps))
	copy(out, n.deps)
	return out
}

// Dependents returns a copy of the nodes that depend on this one.
func (n *Node) Dependents() []*Node {
	out := make([]*Node, len(n.edges))
	copy(out, n.edges)
	return out
}

// SetEnabled toggles the node between real work and a no-op ordering marker.
// Only kernel, copy, and set nodes support disabling.
func (n *Node) SetEnabled(enabled bool) error {
	switch n.kind {
	case KindKernel, KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol, KindMemcpy3D, KindMemset:
	default:
		return ErrNotDisableable
	}
	if n.enabled != enabled {
		n.enabled = enabled
		n.InvalidatePackets()
	}
	return nil
}

// ChildGraph returns the embedded graph of a sub-graph node, nil otherwise.
func (n *Node) ChildGraph() *Graph { return n.child }

// KernelParams returns a copy of a kernel node's parameters.
func (n *Node) KernelParams() (KernelParams, bool) {
	if n.kernel == nil {
		return KernelParams{}, false
	}
	return *n.kernel.clone(), true
}

// MemcpyParams returns a copy of a copy node's parameters.
func (n *Node) MemcpyParams() (MemcpyParams, bool) {
	if n.memcpy == nil {
		return MemcpyParams{}, false
	}
	return *n.memcpy, true
}

// Memcpy3DParams returns a copy of a strided-copy node's parameters.
func (n *Node) Memcpy3DParams() (Memcpy3DParams, bool) {
	if n.memcpy3D == nil {
		return Memcpy3DParams{}, false
	}
	return *n.memcpy3D, true
}

// MemsetParams returns a copy of a set node's parameters.
func (n *Node) MemsetParams() (MemsetParams, bool) {
	if n.memset == nil {
		return MemsetParams{}, false
	}
	return *n.memset, true
}

// AllocatedPtr returns the address owned by a memory-allocation node.
func (n *Node) AllocatedPtr() (device.Ptr, bool) {
	if n.memAlloc == nil {
		return device.NullPtr, false
	}
	return n.memAlloc.Ptr, true
}

// clone returns a deep copy preserving parameters but not edges; the caller
// remaps edges through its old-to-new node map.
func (n *Node) clone() *Node {
	c := newNode(n.kind)
	c.enabled = n.enabled
	c.original = n
	switch n.kind {
	case KindKernel:
		c.kernel = n.kernel.clone()
	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
		p := *n.memcpy
		c.memcpy = &p
	case KindMemcpy3D:
		p := *n.memcpy3D
		c.memcpy3D = &p
	case KindMemset:
		p := *n.memset
		c.memset = &p
	case KindHost:
		p := *n.host
		c.host = &p
	case KindEventRecord, KindEventWait:
		p := *n.event
		c.event = &p
	case KindMemAlloc:
		p := *n.memAlloc
		c.memAlloc = &p
	case KindMemFree:
		p := *n.memFree
		c.memFree = &p
	case KindChildGraph:
		c.child = n.child.cloneInto(n.child.dev)
	}
	registry.Nodes.Register(c)
	return c
}

// InvalidatePackets drops the node's captured packets, forcing the next
// launch down the full command-creation path for this node.
func (n *Node) InvalidatePackets() {
	n.packets = nil
	n.packetsValid = false
	n.capturedName = ""
}

// PacketsValid reports whether captured packets can be replayed.
func (n *Node) PacketsValid() bool { return n.packetsValid }

// CapturedName returns the symbolic name captured with the packets.
func (n *Node) CapturedName() string { return n.capturedName }

// GraphCaptureEnabled reports whether this node's commands produce
// replayable hardware packets. Host callbacks, event operations, and
// allocation lifecycle nodes must run the full command path every launch.
func (n *Node) GraphCaptureEnabled() bool {
	switch n.kind {
	case KindKernel, KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol, KindMemcpy3D, KindMemset, KindEmpty:
		return true
	case KindChildGraph:
		for _, cn := range n.child.vertices {
			if !cn.GraphCaptureEnabled() {
				return false
			}
		}
		return true
	}
	return false
}
