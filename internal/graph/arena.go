package graph

// KernelArgBytes returns the total size of the node's kernel arguments, used
// to size the shared command-argument arena at instantiation.
func (n *Node) KernelArgBytes() int {
	if n.kernel == nil {
		return 0
	}
	total := 0
	for _, a := range n.kernel.Args {
		total += len(a)
	}
	return total
}

// MoveArgsToArena copies the node's kernel arguments into buf and repoints
// them at the arena storage, returning the number of bytes consumed. The
// caller guarantees buf is large enough.
func (n *Node) MoveArgsToArena(buf []byte) int {
	if n.kernel == nil {
		return 0
	}
	off := 0
	for i, a := range n.kernel.Args {
		dst := buf[off : off+len(a)]
		copy(dst, a)
		n.kernel.Args[i] = dst
		off += len(a)
	}
	return off
}

// MarkInstantiated freezes the graph's topology-sensitive update rules.
// Instantiation calls this on its private clone.
func (g *Graph) MarkInstantiated() { g.instantiated = true }

// Instantiated reports whether the graph is an executable's frozen clone.
func (g *Graph) Instantiated() bool { return g.instantiated }
