package app

import (
	"context"
	"fmt"

	"github.com/accelgraph/accelgraph/internal/config"
	"github.com/accelgraph/accelgraph/internal/ctxlog"
	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/device/sim"
	"github.com/accelgraph/accelgraph/internal/graph"
)

// buildState tracks everything assembled from a graph definition: the graph
// itself, the named addresses visible to node definitions, and the buffers
// the app must free after the run.
type buildState struct {
	graph   *graph.Graph
	addrs   map[string]device.Ptr
	sizes   map[string]uint64
	buffers []device.Ptr
	nodes   map[string]*graph.Node
}

// buildGraph assembles a device graph from the loaded definition. Buffers
// are allocated up front; nodes are added in file order, so a depends_on
// reference must name an earlier node.
func buildGraph(ctx context.Context, dev *sim.Device, def *config.GraphDef) (*buildState, error) {
	logger := ctxlog.FromContext(ctx)

	st := &buildState{
		addrs: make(map[string]device.Ptr),
		sizes: make(map[string]uint64),
		nodes: make(map[string]*graph.Node),
	}

	for _, b := range def.Buffers {
		ptr, err := dev.AllocBuffer(b.Size, b.Host)
		if err != nil {
			st.release(dev)
			return nil, fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		st.addrs[b.Name] = ptr
		st.sizes[b.Name] = b.Size
		st.buffers = append(st.buffers, ptr)
	}
	logger.Debug("Buffers allocated.", "count", len(st.buffers))

	st.graph = graph.New(dev)

	for _, nd := range def.Nodes {
		if _, dup := st.nodes[nd.Name]; dup {
			st.release(dev)
			return nil, fmt.Errorf("node %q: duplicate name", nd.Name)
		}
		deps, err := st.resolveDeps(nd)
		if err != nil {
			st.release(dev)
			return nil, err
		}
		n, err := st.addNode(ctx, dev, nd, deps)
		if err != nil {
			st.release(dev)
			return nil, fmt.Errorf("node %q: %w", nd.Name, err)
		}
		st.nodes[nd.Name] = n
	}
	logger.Debug("Graph assembled.", "nodes", st.graph.NodeCount(), "edges", st.graph.EdgeCount())

	return st, nil
}

func (st *buildState) resolveDeps(nd *config.NodeDef) ([]*graph.Node, error) {
	var deps []*graph.Node
	for _, name := range nd.DependsOn {
		dep, ok := st.nodes[name]
		if !ok {
			return nil, fmt.Errorf("node %q: depends_on references unknown node %q", nd.Name, name)
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func (st *buildState) addNode(ctx context.Context, dev *sim.Device, nd *config.NodeDef, deps []*graph.Node) (*graph.Node, error) {
	switch {
	case nd.Kernel != nil:
		p, err := st.kernelParams(dev, nd.Kernel)
		if err != nil {
			return nil, err
		}
		return st.graph.AddKernelNode(*p, deps...)

	case nd.Memcpy != nil:
		return st.addMemcpyNode(nd.Memcpy, deps)

	case nd.Memset != nil:
		dst, err := st.lookupAddr(nd.Memset.Dst)
		if err != nil {
			return nil, err
		}
		elem := uint32(nd.Memset.ElemSize)
		if elem == 0 {
			elem = 1
		}
		if err := st.checkRange(nd.Memset.Dst, nd.Memset.Offset, uint64(elem)*nd.Memset.Count); err != nil {
			return nil, err
		}
		return st.graph.AddMemsetNode(graph.MemsetParams{
			Dst:      dst + device.Ptr(nd.Memset.Offset),
			Value:    nd.Memset.Value,
			ElemSize: elem,
			Width:    nd.Memset.Count,
		}, deps...)

	case nd.Alloc != nil:
		n, err := st.graph.AddMemAllocNode(nd.Alloc.Size, deps...)
		if err != nil {
			return nil, err
		}
		ptr, _ := n.AllocatedPtr()
		st.addrs[nd.Alloc.Name] = ptr
		st.sizes[nd.Alloc.Name] = nd.Alloc.Size
		return n, nil

	case nd.Free != nil:
		target, err := st.lookupAddr(nd.Free.Target)
		if err != nil {
			return nil, err
		}
		return st.graph.AddMemFreeNode(target, deps...)

	case nd.Callback != nil:
		logger := ctxlog.FromContext(ctx)
		name := nd.Name
		return st.graph.AddHostNode(func(arg any) {
			logger.Info("Host callback fired.", "node", name, "message", arg)
		}, nd.Callback.Message, deps...)

	default:
		return st.graph.AddEmptyNode(deps...)
	}
}

func (st *buildState) kernelParams(dev *sim.Device, kd *config.KernelDef) (*graph.KernelParams, error) {
	fn, err := dev.ResolveFunction(kd.Function)
	if err != nil {
		return nil, err
	}
	sig := fn.Signature()
	if len(kd.Args) != len(sig) {
		return nil, fmt.Errorf("kernel %q takes %d arguments, got %d", kd.Function, len(sig), len(kd.Args))
	}

	args := make([][]byte, len(kd.Args))
	for i, a := range kd.Args {
		switch {
		case sig[i].Pointer:
			if a.Buffer == "" {
				return nil, fmt.Errorf("kernel %q argument %d: expected a buffer reference", kd.Function, i)
			}
			ptr, err := st.lookupAddr(a.Buffer)
			if err != nil {
				return nil, err
			}
			args[i] = sim.EncodePtrArg(ptr)
		case sig[i].Size == 4:
			if a.Value > 0xFFFFFFFF {
				return nil, fmt.Errorf("kernel %q argument %d: value %d does not fit in 32 bits", kd.Function, i, a.Value)
			}
			args[i] = sim.EncodeU32Arg(uint32(a.Value))
		default:
			return nil, fmt.Errorf("kernel %q argument %d: unsupported scalar size %d", kd.Function, i, sig[i].Size)
		}
	}

	return &graph.KernelParams{
		Fn:    fn,
		Grid:  device.Dim3{X: kd.Grid[0], Y: kd.Grid[1], Z: kd.Grid[2]},
		Block: device.Dim3{X: kd.Block[0], Y: kd.Block[1], Z: kd.Block[2]},
		Args:  args,
	}, nil
}

// addMemcpyNode builds either copy form from the definition: a linear node
// when Size is set, a strided one when Width is.
func (st *buildState) addMemcpyNode(md *config.MemcpyDef, deps []*graph.Node) (*graph.Node, error) {
	dst, err := st.lookupAddr(md.Dst)
	if err != nil {
		return nil, err
	}
	src, err := st.lookupAddr(md.Src)
	if err != nil {
		return nil, err
	}

	if md.Width == 0 {
		if err := st.checkRange(md.Dst, md.DstOffset, md.Size); err != nil {
			return nil, err
		}
		if err := st.checkRange(md.Src, md.SrcOffset, md.Size); err != nil {
			return nil, err
		}
		return st.graph.AddMemcpyNode(graph.MemcpyParams{
			Dst:   dst + device.Ptr(md.DstOffset),
			Src:   src + device.Ptr(md.SrcOffset),
			Bytes: md.Size,
			Kind:  device.CopyDefault,
		}, deps...)
	}

	p := graph.Memcpy3DParams{
		Dst:      dst + device.Ptr(md.DstOffset),
		Src:      src + device.Ptr(md.SrcOffset),
		Kind:     device.CopyDefault,
		Width:    md.Width,
		Height:   md.Height,
		Depth:    md.Depth,
		DstPitch: md.DstPitch,
		SrcPitch: md.SrcPitch,
	}
	if err := st.checkRange(md.Dst, md.DstOffset, stridedSpan(p.Width, p.Height, p.Depth, p.DstPitch)); err != nil {
		return nil, err
	}
	if err := st.checkRange(md.Src, md.SrcOffset, stridedSpan(p.Width, p.Height, p.Depth, p.SrcPitch)); err != nil {
		return nil, err
	}
	return st.graph.AddMemcpy3DNode(p, deps...)
}

// stridedSpan returns the bytes a strided copy touches on one end: full
// pitch for every row but the last.
func stridedSpan(width, height, depth, pitch uint64) uint64 {
	if height == 0 {
		height = 1
	}
	if depth == 0 {
		depth = 1
	}
	if pitch == 0 {
		pitch = width
	}
	return pitch*(height*depth-1) + width
}

func (st *buildState) lookupAddr(name string) (device.Ptr, error) {
	ptr, ok := st.addrs[name]
	if !ok {
		return 0, fmt.Errorf("unknown buffer %q", name)
	}
	return ptr, nil
}

// checkRange verifies that offset+bytes stays inside the named buffer.
func (st *buildState) checkRange(name string, offset, bytes uint64) error {
	size, ok := st.sizes[name]
	if !ok {
		return fmt.Errorf("unknown buffer %q", name)
	}
	if offset > size || bytes > size-offset {
		return fmt.Errorf("buffer %q: %d bytes at offset %d exceed size %d", name, bytes, offset, size)
	}
	return nil
}

// release frees everything the build allocated so far.
func (st *buildState) release(dev *sim.Device) {
	if st.graph != nil {
		_ = st.graph.Destroy()
	}
	for _, ptr := range st.buffers {
		_ = dev.FreeBuffer(ptr)
	}
}
