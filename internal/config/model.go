package config

// Model is the unified, format-agnostic representation of a loaded graph
// definition.
type Model struct {
	Graph *GraphDef
}

// GraphDef describes one execution graph.
type GraphDef struct {
	Name    string
	Buffers []*BufferDef
	Nodes   []*NodeDef
}

// BufferDef describes a device or host buffer allocated before the graph's
// nodes are added. Node definitions refer to buffers by name.
type BufferDef struct {
	Name string
	Size uint64
	Host bool
}

// NodeDef is the format-agnostic representation of a `node` block. Exactly
// one of the operation fields is set; a node with none of them is an empty
// ordering node.
type NodeDef struct {
	Name      string
	DependsOn []string

	Kernel   *KernelDef
	Memcpy   *MemcpyDef
	Memset   *MemsetDef
	Alloc    *AllocDef
	Free     *FreeDef
	Callback *CallbackDef
}

// ArgDef is a single kernel argument. Buffer names a buffer whose base
// address is passed as a pointer argument; otherwise Value carries a scalar.
type ArgDef struct {
	Buffer string
	Value  uint64
}

// KernelDef describes a kernel launch.
type KernelDef struct {
	Function string
	Grid     [3]uint32
	Block    [3]uint32
	Args     []ArgDef
}

// MemcpyDef describes a copy between two buffers.
type MemcpyDef struct {
	Dst       string
	Src       string
	DstOffset uint64
	SrcOffset uint64
	// Size describes a linear copy. The strided form instead gives Width
	// (bytes per row) with optional Height, Depth and per-end pitches.
	// Exactly one of Size and Width is non-zero.
	Size     uint64
	Width    uint64
	Height   uint64
	Depth    uint64
	DstPitch uint64
	SrcPitch uint64
}

// MemsetDef describes a fill of Count elements of ElemSize bytes each.
type MemsetDef struct {
	Dst      string
	Offset   uint64
	Value    uint32
	ElemSize int
	Count    uint64
}

// AllocDef describes a graph-owned allocation created when the node runs.
// The allocation is visible to later node definitions under Name.
type AllocDef struct {
	Name string
	Size uint64
}

// FreeDef releases the allocation made by the named alloc node.
type FreeDef struct {
	Target string
}

// CallbackDef describes a host callback that logs Message when it runs.
type CallbackDef struct {
	Message string
}
