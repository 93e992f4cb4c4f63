package graph

import (
	"fmt"
	"io"
)

// ExportDOT writes a Graphviz description of the graph: one cluster per
// (sub-)graph and one record per node showing its type-specific parameters.
func (g *Graph) ExportDOT(w io.Writer) error {
	if g.destroyed {
		return ErrDestroyed
	}
	if _, err := fmt.Fprintf(w, "digraph graph_%d {\n", g.id); err != nil {
		return err
	}
	if err := g.writeDOTBody(w, "\t"); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func (g *Graph) writeDOTBody(w io.Writer, indent string) error {
	for _, n := range g.vertices {
		if n.kind == KindChildGraph {
			if _, err := fmt.Fprintf(w, "%ssubgraph cluster_%d {\n%s\tlabel=\"graph_%d\";\n",
				indent, n.child.id, indent, n.child.id); err != nil {
				return err
			}
			if err := n.child.writeDOTBody(w, indent+"\t"); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s}\n", indent); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%sn%d [shape=record,label=\"%s\"];\n", indent, n.id, n.dotLabel()); err != nil {
			return err
		}
	}
	for _, n := range g.vertices {
		for _, e := range n.edges {
			if _, err := fmt.Fprintf(w, "%sn%d -> n%d;\n", indent, n.id, e.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// dotLabel renders the node's type-specific parameters as a record label.
func (n *Node) dotLabel() string {
	state := ""
	if !n.enabled {
		state = "|disabled"
	}
	switch n.kind {
	case KindKernel:
		p := n.kernel
		return fmt.Sprintf("{%d|kernel %s|grid %s block %s shared %d%s}",
			n.id, p.Fn.Name(), p.Grid, p.Block, p.SharedMem, state)
	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
		p := n.memcpy
		sym := ""
		if p.Symbol != "" {
			sym = fmt.Sprintf("|symbol %s+%d", p.Symbol, p.Offset)
		}
		return fmt.Sprintf("{%d|%s|%#x \\<- %#x (%d bytes, %s)%s%s}",
			n.id, n.kind, uint64(p.Dst), uint64(p.Src), p.Bytes, p.Kind, sym, state)
	case KindMemcpy3D:
		p := n.memcpy3D.normalized()
		return fmt.Sprintf("{%d|memcpy3d|%#x \\<- %#x (w%d h%d d%d, dp%d sp%d, %s)%s}",
			n.id, uint64(p.Dst), uint64(p.Src), p.Width, p.Height, p.Depth, p.DstPitch, p.SrcPitch, p.Kind, state)
	case KindMemset:
		p := n.memset.normalized()
		return fmt.Sprintf("{%d|memset|%#x = %#x x%d (w%d h%d d%d)%s}",
			n.id, uint64(p.Dst), p.Value, p.ElemSize, p.Width, p.Height, p.Depth, state)
	case KindHost:
		return fmt.Sprintf("{%d|host callback}", n.id)
	case KindEventRecord, KindEventWait:
		return fmt.Sprintf("{%d|%s|event %d}", n.id, n.kind, n.event.Event.ID())
	case KindMemAlloc:
		return fmt.Sprintf("{%d|mem_alloc|%d bytes at %#x}", n.id, n.memAlloc.Size, uint64(n.memAlloc.Ptr))
	case KindMemFree:
		return fmt.Sprintf("{%d|mem_free|%#x}", n.id, uint64(n.memFree.Target))
	case KindChildGraph:
		return fmt.Sprintf("{%d|child graph_%d|%d nodes}", n.id, n.child.id, len(n.child.vertices))
	}
	return fmt.Sprintf("{%d|%s}", n.id, n.kind)
}
