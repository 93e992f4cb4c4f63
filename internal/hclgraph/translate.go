package hclgraph

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"github.com/accelgraph/accelgraph/internal/config"
)

// translateGraph converts the HCL-specific graph schema into the agnostic
// model, evaluating all size and value expressions.
func (l *Loader) translateGraph(g *graphBlock) (*config.GraphDef, error) {
	evalCtx := newEvalContext()

	def := &config.GraphDef{Name: g.Name}

	for _, b := range g.Buffers {
		size, err := evalUint64(b.Size, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		if size == 0 {
			return nil, fmt.Errorf("buffer %q: size must be positive", b.Name)
		}
		def.Buffers = append(def.Buffers, &config.BufferDef{
			Name: b.Name,
			Size: size,
			Host: b.Host,
		})
	}

	for _, n := range g.Nodes {
		nd, err := l.translateNode(n, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		def.Nodes = append(def.Nodes, nd)
	}
	return def, nil
}

func (l *Loader) translateNode(n *nodeBlock, evalCtx *hcl.EvalContext) (*config.NodeDef, error) {
	nd := &config.NodeDef{Name: n.Name, DependsOn: n.DependsOn}

	count := 0
	if n.Kernel != nil {
		count++
	}
	if n.Memcpy != nil {
		count++
	}
	if n.Memset != nil {
		count++
	}
	if n.Alloc != nil {
		count++
	}
	if n.Free != nil {
		count++
	}
	if n.Callback != nil {
		count++
	}
	if count > 1 {
		return nil, fmt.Errorf("at most one operation block is allowed, found %d", count)
	}

	switch {
	case n.Kernel != nil:
		grid, err := evalDim(n.Kernel.Grid, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
		block, err := evalDim(n.Kernel.Block, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("block: %w", err)
		}
		kd := &config.KernelDef{Function: n.Kernel.Function, Grid: grid, Block: block}
		for i, a := range n.Kernel.Args {
			if a.Buffer != "" && exprPresent(a.Value, evalCtx) {
				return nil, fmt.Errorf("arg %d: buffer and value are mutually exclusive", i)
			}
			ad := config.ArgDef{Buffer: a.Buffer}
			if a.Value != nil {
				v, err := evalUint64(a.Value, evalCtx)
				if err != nil {
					return nil, fmt.Errorf("arg %d: %w", i, err)
				}
				ad.Value = v
			}
			kd.Args = append(kd.Args, ad)
		}
		nd.Kernel = kd

	case n.Memcpy != nil:
		md, err := translateMemcpy(n.Memcpy, evalCtx)
		if err != nil {
			return nil, err
		}
		nd.Memcpy = md

	case n.Memset != nil:
		off, err := evalUint64(n.Memset.Offset, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
		value, err := evalUint32(n.Memset.Value, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		count, err := evalUint64(n.Memset.Count, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		elemSize := n.Memset.ElemSize
		if elemSize == 0 {
			elemSize = 1
		}
		nd.Memset = &config.MemsetDef{
			Dst:      n.Memset.Dst,
			Offset:   off,
			Value:    value,
			ElemSize: elemSize,
			Count:    count,
		}

	case n.Alloc != nil:
		size, err := evalUint64(n.Alloc.Size, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("size: %w", err)
		}
		nd.Alloc = &config.AllocDef{Name: n.Alloc.Name, Size: size}

	case n.Free != nil:
		nd.Free = &config.FreeDef{Target: n.Free.Target}

	case n.Callback != nil:
		nd.Callback = &config.CallbackDef{Message: n.Callback.Message}
	}

	return nd, nil
}

// translateMemcpy evaluates either copy form: size for a linear copy, width
// plus optional height/depth/pitches for a strided one.
func translateMemcpy(m *memcpyBlock, evalCtx *hcl.EvalContext) (*config.MemcpyDef, error) {
	size, err := evalUint64(m.Size, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	width, err := evalUint64(m.Width, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("width: %w", err)
	}
	if size == 0 && width == 0 {
		return nil, fmt.Errorf("memcpy needs either size or width")
	}
	if size > 0 && width > 0 {
		return nil, fmt.Errorf("size and width are mutually exclusive")
	}
	dstOff, err := evalUint64(m.DstOffset, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("dst_offset: %w", err)
	}
	srcOff, err := evalUint64(m.SrcOffset, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("src_offset: %w", err)
	}
	md := &config.MemcpyDef{
		Dst:       m.Dst,
		Src:       m.Src,
		DstOffset: dstOff,
		SrcOffset: srcOff,
		Size:      size,
		Width:     width,
	}
	if width == 0 {
		for name, expr := range map[string]hcl.Expression{
			"height": m.Height, "depth": m.Depth, "dst_pitch": m.DstPitch, "src_pitch": m.SrcPitch,
		} {
			v, err := evalUint64(expr, evalCtx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if v != 0 {
				return nil, fmt.Errorf("%s requires width", name)
			}
		}
		return md, nil
	}
	if md.Height, err = evalUint64(m.Height, evalCtx); err != nil {
		return nil, fmt.Errorf("height: %w", err)
	}
	if md.Depth, err = evalUint64(m.Depth, evalCtx); err != nil {
		return nil, fmt.Errorf("depth: %w", err)
	}
	if md.DstPitch, err = evalUint64(m.DstPitch, evalCtx); err != nil {
		return nil, fmt.Errorf("dst_pitch: %w", err)
	}
	if md.SrcPitch, err = evalUint64(m.SrcPitch, evalCtx); err != nil {
		return nil, fmt.Errorf("src_pitch: %w", err)
	}
	return md, nil
}
