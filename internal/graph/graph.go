package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/mempool"
	"github.com/accelgraph/accelgraph/internal/registry"
)

// GraphID is a process-unique graph identifier.
type GraphID uint64

var graphSeq atomic.Uint64

// Graph owns a set of nodes and the edges between them. A graph is mutated
// only by the single thread that holds it; cross-thread handle validation
// goes through the registry package.
type Graph struct {
	id  GraphID
	dev device.Device
	// pool is the graph-scoped memory pool. Clones share their original's
	// pool so allocation-node addresses stay stable across instantiation.
	pool *mempool.Pool

	vertices []*Node
	// original points at the source graph when this one is a clone.
	original *Graph
	// userObjects maps each attached object to the reference count this
	// graph contributes, distinct from the object's own count.
	userObjects map[*UserObject]int
	// memAllocCount counts allocation nodes whose paired free node has not
	// been added yet.
	memAllocCount int
	// instantiated marks executable clones, tightening some parameter
	// update rules.
	instantiated bool
	destroyed    bool
}

// New creates an empty graph bound to a device.
func New(dev device.Device) *Graph {
	g := &Graph{
		id:          GraphID(graphSeq.Add(1)),
		dev:         dev,
		pool:        mempool.New(dev.Allocator()),
		userObjects: make(map[*UserObject]int),
	}
	registry.Graphs.Register(g)
	return g
}

// ID returns the graph's process-unique identifier.
func (g *Graph) ID() GraphID { return g.id }

// Device returns the device the graph was built against.
func (g *Graph) Device() device.Device { return g.dev }

// Pool returns the graph-scoped memory pool.
func (g *Graph) Pool() *mempool.Pool { return g.pool }

// Original returns the graph this one was cloned from, or nil.
func (g *Graph) Original() *Graph { return g.original }

// Nodes returns a copy of the vertex list in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.vertices))
	copy(out, g.vertices)
	return out
}

// NodeCount returns the number of owned nodes.
func (g *Graph) NodeCount() int { return len(g.vertices) }

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, n := range g.vertices {
		total += n.outDegree
	}
	return total
}

// MemAllocNodeCount returns the number of allocation nodes with no paired
// free node.
func (g *Graph) MemAllocNodeCount() int { return g.memAllocCount }

// GetRootNodes returns all nodes with no dependencies.
func (g *Graph) GetRootNodes() []*Node {
	var roots []*Node
	for _, n := range g.vertices {
		if n.inDegree == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// GetLeafNodes returns all nodes with no dependents.
func (g *Graph) GetLeafNodes() []*Node {
	var leaves []*Node
	for _, n := range g.vertices {
		if n.outDegree == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

func (g *Graph) addNode(n *Node, deps []*Node) (*Node, error) {
	if g.destroyed {
		return nil, ErrDestroyed
	}
	n.owner = g
	g.vertices = append(g.vertices, n)
	registry.Nodes.Register(n)
	for _, d := range deps {
		if err := g.AddEdge(d, n); err != nil {
			g.RemoveNode(n)
			return nil, err
		}
	}
	return n, nil
}

// AddEmptyNode adds a pure ordering node.
func (g *Graph) AddEmptyNode(deps ...*Node) (*Node, error) {
	return g.addNode(newNode(KindEmpty), deps)
}

// AddKernelNode validates p against the device and adds a kernel node.
func (g *Graph) AddKernelNode(p KernelParams, deps ...*Node) (*Node, error) {
	if err := p.validate(g.dev); err != nil {
		return nil, err
	}
	n := newNode(KindKernel)
	n.kernel = p.clone()
	return g.addNode(n, deps)
}

// AddMemcpyNode validates p against memory residency and adds a copy node.
func (g *Graph) AddMemcpyNode(p MemcpyParams, deps ...*Node) (*Node, error) {
	if err := p.validate(g.dev); err != nil {
		return nil, err
	}
	n := newNode(KindMemcpy)
	c := p
	n.memcpy = &c
	return g.addNode(n, deps)
}

// AddMemcpy3DNode validates p against memory residency and the endpoint
// allocations' extents, then adds a strided-copy node.
func (g *Graph) AddMemcpy3DNode(p Memcpy3DParams, deps ...*Node) (*Node, error) {
	if err := p.validate(g.dev); err != nil {
		return nil, err
	}
	n := newNode(KindMemcpy3D)
	c := p
	n.memcpy3D = &c
	return g.addNode(n, deps)
}

// AddMemcpyToSymbolNode adds a copy into a named device symbol.
func (g *Graph) AddMemcpyToSymbolNode(symbol string, offset uint64, src device.Ptr, bytes uint64, kind device.CopyKind, deps ...*Node) (*Node, error) {
	base, size, err := g.dev.ResolveSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if rangeOverruns(offset, bytes, size) {
		return nil, fmt.Errorf("memcpy to symbol %q: %d bytes at offset %d overruns symbol of %d bytes",
			symbol, bytes, offset, size)
	}
	p := MemcpyParams{Dst: base + device.Ptr(offset), Src: src, Bytes: bytes, Kind: kind, Symbol: symbol, Offset: offset}
	if err := p.validate(g.dev); err != nil {
		return nil, err
	}
	n := newNode(KindMemcpyToSymbol)
	n.memcpy = &p
	return g.addNode(n, deps)
}

// AddMemcpyFromSymbolNode adds a copy out of a named device symbol.
func (g *Graph) AddMemcpyFromSymbolNode(dst device.Ptr, symbol string, offset uint64, bytes uint64, kind device.CopyKind, deps ...*Node) (*Node, error) {
	base, size, err := g.dev.ResolveSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if rangeOverruns(offset, bytes, size) {
		return nil, fmt.Errorf("memcpy from symbol %q: %d bytes at offset %d overruns symbol of %d bytes",
			symbol, bytes, offset, size)
	}
	p := MemcpyParams{Dst: dst, Src: base + device.Ptr(offset), Bytes: bytes, Kind: kind, Symbol: symbol, Offset: offset}
	if err := p.validate(g.dev); err != nil {
		return nil, err
	}
	n := newNode(KindMemcpyFromSymbol)
	n.memcpy = &p
	return g.addNode(n, deps)
}

// AddMemsetNode validates p against the destination allocation and adds a
// fill node.
func (g *Graph) AddMemsetNode(p MemsetParams, deps ...*Node) (*Node, error) {
	if err := p.validate(g.dev, nil); err != nil {
		return nil, err
	}
	n := newNode(KindMemset)
	c := p
	n.memset = &c
	return g.addNode(n, deps)
}

// AddHostNode adds a host-callback node. Downstream dependents are
// guaranteed not to start until fn has returned.
func (g *Graph) AddHostNode(fn func(arg any), arg any, deps ...*Node) (*Node, error) {
	if fn == nil {
		return nil, fmt.Errorf("host node: nil callback")
	}
	n := newNode(KindHost)
	n.host = &HostParams{Fn: fn, Arg: arg}
	return g.addNode(n, deps)
}

// AddEventRecordNode adds a node that records ev when reached.
func (g *Graph) AddEventRecordNode(ev device.Event, deps ...*Node) (*Node, error) {
	if ev == nil {
		return nil, fmt.Errorf("event record node: nil event")
	}
	n := newNode(KindEventRecord)
	n.event = &EventParams{Event: ev}
	return g.addNode(n, deps)
}

// AddEventWaitNode adds a node that stalls its queue until ev is recorded.
func (g *Graph) AddEventWaitNode(ev device.Event, deps ...*Node) (*Node, error) {
	if ev == nil {
		return nil, fmt.Errorf("event wait node: nil event")
	}
	n := newNode(KindEventWait)
	n.event = &EventParams{Event: ev}
	return g.addNode(n, deps)
}

// AddMemAllocNode reserves size bytes from the graph-scoped pool and adds an
// allocation node. The returned node's address is available immediately via
// AllocatedPtr so later nodes can reference it.
func (g *Graph) AddMemAllocNode(size uint64, deps ...*Node) (*Node, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem_alloc node: zero size")
	}
	ptr, err := g.pool.AllocateMemory(size, nil, device.NullPtr)
	if err != nil {
		return nil, err
	}
	n := newNode(KindMemAlloc)
	n.memAlloc = &MemAllocParams{Size: size, Ptr: ptr, active: true}
	added, err := g.addNode(n, deps)
	if err != nil {
		_ = g.pool.FreeMemory(ptr, nil)
		return nil, err
	}
	g.memAllocCount++
	return added, nil
}

// AddMemFreeNode adds a node that releases ptr back to the graph's pool.
// ptr must have been produced by an allocation node of this graph.
func (g *Graph) AddMemFreeNode(ptr device.Ptr, deps ...*Node) (*Node, error) {
	var allocNode *Node
	for _, v := range g.vertices {
		if v.kind == KindMemAlloc && v.memAlloc.Ptr == ptr {
			allocNode = v
			break
		}
	}
	if allocNode == nil {
		return nil, fmt.Errorf("mem_free node: %#x was not allocated by this graph", uint64(ptr))
	}
	for _, v := range g.vertices {
		if v.kind == KindMemFree && v.memFree.Target == ptr {
			return nil, fmt.Errorf("mem_free node: %#x already has a free node", uint64(ptr))
		}
	}
	n := newNode(KindMemFree)
	n.memFree = &MemFreeParams{Target: ptr, allocNode: allocNode}
	added, err := g.addNode(n, deps)
	if err != nil {
		return nil, err
	}
	g.memAllocCount--
	return added, nil
}

// AddChildGraphNode embeds a deep clone of child as a sub-graph node; the
// caller keeps ownership of the original.
func (g *Graph) AddChildGraphNode(child *Graph, deps ...*Node) (*Node, error) {
	if child == nil || child.destroyed {
		return nil, ErrDestroyed
	}
	embedded, _, err := child.cloneWithMap(g.dev)
	if err != nil {
		return nil, err
	}
	n := newNode(KindChildGraph)
	n.child = embedded
	return g.addNode(n, deps)
}

// AddEdge makes to depend on from, updating both adjacency lists and the
// cached degrees together.
func (g *Graph) AddEdge(from, to *Node) error {
	if g.destroyed {
		return ErrDestroyed
	}
	if from == to {
		return ErrSelfEdge
	}
	if from == nil || to == nil || from.owner != g || to.owner != g {
		return ErrWrongGraph
	}
	for _, e := range from.edges {
		if e == to {
			return ErrDuplicateEdge
		}
	}
	from.edges = append(from.edges, to)
	from.outDegree++
	to.deps = append(to.deps, from)
	to.inDegree++
	return nil
}

// RemoveEdge removes the dependency of to on from.
func (g *Graph) RemoveEdge(from, to *Node) error {
	if from == nil || to == nil || from.owner != g || to.owner != g {
		return ErrWrongGraph
	}
	if !removeFromList(&from.edges, to) {
		return fmt.Errorf("edge %d->%d does not exist", from.id, to.id)
	}
	removeFromList(&to.deps, from)
	from.outDegree--
	to.inDegree--
	return nil
}

// RemoveNode detaches n from every neighbor and drops it from the graph.
func (g *Graph) RemoveNode(n *Node) error {
	if n == nil || n.owner != g {
		return ErrWrongGraph
	}
	for _, d := range n.Dependencies() {
		removeFromList(&d.edges, n)
		d.outDegree--
	}
	for _, e := range n.Dependents() {
		removeFromList(&e.deps, n)
		e.inDegree--
	}
	n.deps = nil
	n.edges = nil
	n.inDegree = 0
	n.outDegree = 0
	removeFromList(&g.vertices, n)
	if n.kind == KindMemAlloc {
		g.memAllocCount--
	}
	if n.kind == KindMemFree {
		g.memAllocCount++
	}
	n.owner = nil
	registry.Nodes.Unregister(n)
	return nil
}

func removeFromList(list *[]*Node, n *Node) bool {
	for i, v := range *list {
		if v == n {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Destroy tears the graph down: every owned node is destroyed and unlinked,
// outstanding pool allocations are released, and attached user objects are
// released by exactly the count this graph owned.
func (g *Graph) Destroy() error {
	if g.destroyed {
		return ErrDestroyed
	}
	g.destroyed = true

	for _, n := range g.vertices {
		if n.kind == KindChildGraph && n.child != nil {
			_ = n.child.Destroy()
		}
		n.deps = nil
		n.edges = nil
		n.owner = nil
		registry.Nodes.Unregister(n)
	}
	g.vertices = nil

	// Clones share their original's pool; only the owning graph tears the
	// pool down.
	if g.original == nil {
		g.pool.ReleaseAll()
	}

	g.releaseUserObjects()
	registry.Graphs.Unregister(g)
	return nil
}

// Destroyed reports whether Destroy has run.
func (g *Graph) Destroyed() bool { return g.destroyed }
