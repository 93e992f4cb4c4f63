package hclgraph

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all top-level blocks from any file.
type fileRoot struct {
	Graphs []*graphBlock `hcl:"graph,block"`
	Remain hcl.Body      `hcl:",remain"`
}

// graphBlock represents a `graph` block from a user's definition file.
type graphBlock struct {
	Name    string         `hcl:"name,label"`
	Buffers []*bufferBlock `hcl:"buffer,block"`
	Nodes   []*nodeBlock   `hcl:"node,block"`
}

// bufferBlock declares a named buffer. Size is an expression so that the
// kb/mb/gb convenience variables can be used.
type bufferBlock struct {
	Name string         `hcl:"name,label"`
	Size hcl.Expression `hcl:"size"`
	Host bool           `hcl:"host,optional"`
}

// nodeBlock represents a `node` block. At most one operation sub-block may
// be present; a node with none is a pure ordering node.
type nodeBlock struct {
	Name      string         `hcl:"name,label"`
	DependsOn []string       `hcl:"depends_on,optional"`
	Kernel    *kernelBlock   `hcl:"kernel,block"`
	Memcpy    *memcpyBlock   `hcl:"memcpy,block"`
	Memset    *memsetBlock   `hcl:"memset,block"`
	Alloc     *allocBlock    `hcl:"alloc,block"`
	Free      *freeBlock     `hcl:"free,block"`
	Callback  *callbackBlock `hcl:"callback,block"`
}

type kernelBlock struct {
	Function string         `hcl:"function"`
	Grid     hcl.Expression `hcl:"grid,optional"`
	Block    hcl.Expression `hcl:"block,optional"`
	Args     []*argBlock    `hcl:"arg,block"`
}

// argBlock is one kernel argument. Exactly one of buffer or value is set.
type argBlock struct {
	Buffer string         `hcl:"buffer,optional"`
	Value  hcl.Expression `hcl:"value,optional"`
}

// memcpyBlock covers both copy forms: a linear copy gives size, a strided
// one gives width (bytes per row) with optional height, depth and per-end
// pitches. Exactly one of the two forms must be used.
type memcpyBlock struct {
	Dst       string         `hcl:"dst"`
	Src       string         `hcl:"src"`
	DstOffset hcl.Expression `hcl:"dst_offset,optional"`
	SrcOffset hcl.Expression `hcl:"src_offset,optional"`
	Size      hcl.Expression `hcl:"size,optional"`
	Width     hcl.Expression `hcl:"width,optional"`
	Height    hcl.Expression `hcl:"height,optional"`
	Depth     hcl.Expression `hcl:"depth,optional"`
	DstPitch  hcl.Expression `hcl:"dst_pitch,optional"`
	SrcPitch  hcl.Expression `hcl:"src_pitch,optional"`
}

type memsetBlock struct {
	Dst      string         `hcl:"dst"`
	Offset   hcl.Expression `hcl:"offset,optional"`
	Value    hcl.Expression `hcl:"value"`
	ElemSize int            `hcl:"elem_size,optional"`
	Count    hcl.Expression `hcl:"count"`
}

type allocBlock struct {
	Name string         `hcl:"name,label"`
	Size hcl.Expression `hcl:"size"`
}

type freeBlock struct {
	Target string `hcl:"target"`
}

type callbackBlock struct {
	Message string `hcl:"message,optional"`
}
