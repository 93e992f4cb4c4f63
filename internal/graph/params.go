package graph

import (
	"fmt"

	"github.com/accelgraph/accelgraph/internal/device"
)

// KernelParams describes one kernel dispatch. Arguments come in one of two
// forms: Args holds one buffer per parameter in the function's signature,
// while Extra is a single packed buffer holding every argument at its
// signature offset. Exactly one form may be set; the node deep-copies either
// so it owns independent storage.
type KernelParams struct {
	Fn        device.Function
	Grid      device.Dim3
	Block     device.Dim3
	SharedMem uint32
	Args      [][]byte
	Extra     []byte
}

func (p *KernelParams) clone() *KernelParams {
	c := *p
	c.Args = make([][]byte, len(p.Args))
	for i, a := range p.Args {
		c.Args[i] = make([]byte, len(a))
		copy(c.Args[i], a)
	}
	if p.Extra != nil {
		c.Extra = make([]byte, len(p.Extra))
		copy(c.Extra, p.Extra)
	}
	return &c
}

// materializedArgs returns per-parameter argument buffers, splitting the
// packed form against the function signature when that form is in use.
func (p *KernelParams) materializedArgs() ([][]byte, error) {
	if len(p.Extra) == 0 {
		return p.Args, nil
	}
	return splitPackedArgs(p.Extra, p.Fn.Signature())
}

// splitPackedArgs slices one packed argument buffer into per-parameter
// buffers, aligning each parameter to its signature alignment. Trailing
// padding in buf is tolerated.
func splitPackedArgs(buf []byte, sig []device.ParamDesc) ([][]byte, error) {
	out := make([][]byte, len(sig))
	off := uint64(0)
	for i, pd := range sig {
		if pd.Align > 1 {
			a := uint64(pd.Align)
			off = (off + a - 1) / a * a
		}
		end := off + uint64(pd.Size)
		if end > uint64(len(buf)) {
			return nil, fmt.Errorf("packed arguments are %d bytes, parameter %d needs bytes [%d, %d)",
				len(buf), i, off, end)
		}
		arg := make([]byte, pd.Size)
		copy(arg, buf[off:end])
		out[i] = arg
		off = end
	}
	return out, nil
}

func (p *KernelParams) validate(dev device.Device) error {
	if p.Fn == nil {
		return fmt.Errorf("kernel node: nil function")
	}
	if err := dev.ValidateLaunchParams(p.Fn, p.Grid, p.Block, p.SharedMem); err != nil {
		return fmt.Errorf("kernel %q: %w", p.Fn.Name(), err)
	}
	sig := p.Fn.Signature()
	if len(p.Extra) > 0 {
		if len(p.Args) > 0 {
			return fmt.Errorf("kernel %q: explicit and packed arguments are mutually exclusive", p.Fn.Name())
		}
		if _, err := splitPackedArgs(p.Extra, sig); err != nil {
			return fmt.Errorf("kernel %q: %w", p.Fn.Name(), err)
		}
		return nil
	}
	if len(p.Args) != len(sig) {
		return fmt.Errorf("kernel %q: signature has %d parameters, got %d arguments",
			p.Fn.Name(), len(sig), len(p.Args))
	}
	for i, a := range p.Args {
		if uint32(len(a)) != sig[i].Size {
			return fmt.Errorf("kernel %q: argument %d is %d bytes, parameter wants %d",
				p.Fn.Name(), i, len(a), sig[i].Size)
		}
	}
	return nil
}

// MemcpyParams describes a linear copy. For symbol-relative variants, Symbol
// names the device symbol and the resolved address lands in Dst or Src when
// the node is added.
type MemcpyParams struct {
	Dst    device.Ptr
	Src    device.Ptr
	Bytes  uint64
	Kind   device.CopyKind
	Symbol string
	Offset uint64
}

// effectiveKind resolves CopyDefault from residency, or checks an explicit
// direction against it. Addresses outside any known allocation are treated
// as host-resident.
func (p *MemcpyParams) effectiveKind(dev device.Device) (device.CopyKind, error) {
	dstHost := residencyIsHost(dev, p.Dst)
	srcHost := residencyIsHost(dev, p.Src)
	actual := kindFromResidency(srcHost, dstHost)
	if p.Kind == device.CopyDefault {
		return actual, nil
	}
	if p.Kind != actual {
		return 0, fmt.Errorf("copy direction %s contradicts memory residency (actual %s)", p.Kind, actual)
	}
	return p.Kind, nil
}

func residencyIsHost(dev device.Device, p device.Ptr) bool {
	obj, _ := dev.ResolveMemoryObject(p)
	if obj == nil {
		return true
	}
	return obj.HostResident()
}

func kindFromResidency(srcHost, dstHost bool) device.CopyKind {
	switch {
	case srcHost && dstHost:
		return device.CopyHostToHost
	case srcHost && !dstHost:
		return device.CopyHostToDevice
	case !srcHost && dstHost:
		return device.CopyDeviceToHost
	default:
		return device.CopyDeviceToDevice
	}
}

func (p *MemcpyParams) validate(dev device.Device) error {
	if p.Dst == device.NullPtr || p.Src == device.NullPtr {
		return fmt.Errorf("memcpy node: null pointer")
	}
	if p.Bytes == 0 {
		return fmt.Errorf("memcpy node: zero-byte copy")
	}
	if _, err := p.effectiveKind(dev); err != nil {
		return fmt.Errorf("memcpy node: %w", err)
	}
	for _, end := range []struct {
		name string
		ptr  device.Ptr
	}{{"destination", p.Dst}, {"source", p.Src}} {
		obj, off := dev.ResolveMemoryObject(end.ptr)
		if obj != nil && rangeOverruns(off, p.Bytes, obj.Size()) {
			return fmt.Errorf("memcpy node: %d bytes at %s offset %d overruns allocation of %d bytes",
				p.Bytes, end.name, off, obj.Size())
		}
	}
	return nil
}

// rangeOverruns reports whether [off, off+n) falls outside a region of size
// bytes, without the sum wrapping for large n.
func rangeOverruns(off, n, size uint64) bool {
	return off > size || n > size-off
}

// Memcpy3DParams describes a strided copy: Width bytes per row, Height rows
// per slice, Depth slices. A zero pitch means rows are tight on that end.
type Memcpy3DParams struct {
	Dst      device.Ptr
	Src      device.Ptr
	Kind     device.CopyKind
	Width    uint64 // bytes per row
	Height   uint64
	Depth    uint64
	DstPitch uint64 // bytes per destination row
	SrcPitch uint64 // bytes per source row
}

func (p *Memcpy3DParams) normalized() Memcpy3DParams {
	c := *p
	if c.Height == 0 {
		c.Height = 1
	}
	if c.Depth == 0 {
		c.Depth = 1
	}
	if c.DstPitch == 0 {
		c.DstPitch = c.Width
	}
	if c.SrcPitch == 0 {
		c.SrcPitch = c.Width
	}
	return c
}

// span returns the bytes touched on one end: full pitch for every row but
// the last, which only needs the row itself.
func (p *Memcpy3DParams) span(pitch uint64) uint64 {
	return pitch*(p.Height*p.Depth-1) + p.Width
}

func (p *Memcpy3DParams) validate(dev device.Device) error {
	if p.Dst == device.NullPtr || p.Src == device.NullPtr {
		return fmt.Errorf("memcpy3d node: null pointer")
	}
	n := p.normalized()
	if n.Width == 0 {
		return fmt.Errorf("memcpy3d node: zero width")
	}
	if n.DstPitch < n.Width || n.SrcPitch < n.Width {
		return fmt.Errorf("memcpy3d node: pitch smaller than row of %d bytes", n.Width)
	}
	lin := MemcpyParams{Dst: n.Dst, Src: n.Src, Kind: n.Kind}
	if _, err := lin.effectiveKind(dev); err != nil {
		return fmt.Errorf("memcpy3d node: %w", err)
	}
	for _, end := range []struct {
		name  string
		ptr   device.Ptr
		pitch uint64
	}{{"destination", n.Dst, n.DstPitch}, {"source", n.Src, n.SrcPitch}} {
		obj, off := dev.ResolveMemoryObject(end.ptr)
		if obj == nil {
			continue
		}
		span := n.span(end.pitch)
		if rangeOverruns(off, span, obj.Size()) {
			return fmt.Errorf("memcpy3d node: %d bytes at %s offset %d overruns allocation of %d bytes",
				span, end.name, off, obj.Size())
		}
		// Pitched allocations record their row shape; a strided copy into
		// one must fit the recorded rows.
		w, h, d := obj.Extents()
		if h*d > 1 {
			if n.Width > w {
				return fmt.Errorf("memcpy3d node: row of %d bytes exceeds %s row width %d",
					n.Width, end.name, w)
			}
			if n.Height*n.Depth > h*d {
				return fmt.Errorf("memcpy3d node: %d rows exceed %s extent of %d rows",
					n.Height*n.Depth, end.name, h*d)
			}
		}
	}
	return nil
}

// MemsetParams describes a fill. Width is in elements of ElemSize bytes;
// Height and Depth count rows and slices. A zero Pitch means rows are tight.
type MemsetParams struct {
	Dst      device.Ptr
	Value    uint32
	ElemSize uint32 // 1, 2, or 4
	Width    uint64
	Height   uint64
	Depth    uint64
	Pitch    uint64 // bytes per row
}

func (p *MemsetParams) normalized() MemsetParams {
	c := *p
	if c.Height == 0 {
		c.Height = 1
	}
	if c.Depth == 0 {
		c.Depth = 1
	}
	if c.Pitch == 0 {
		c.Pitch = c.Width * uint64(c.ElemSize)
	}
	return c
}

// validate checks the fill against the destination allocation. prev is the
// node's committed parameters when updating an already-instantiated
// executable; in that case height and depth must match the extents recorded
// at instantiation, while an un-instantiated node may shrink freely within
// allocation bounds.
func (p *MemsetParams) validate(dev device.Device, prev *MemsetParams) error {
	switch p.ElemSize {
	case 1, 2, 4:
	default:
		return fmt.Errorf("memset node: element size %d not one of 1, 2, 4", p.ElemSize)
	}
	n := p.normalized()
	if n.Width == 0 {
		return fmt.Errorf("memset node: zero width")
	}
	rowBytes := n.Width * uint64(n.ElemSize)
	if n.Pitch < rowBytes {
		return fmt.Errorf("memset node: pitch %d smaller than row of %d bytes", n.Pitch, rowBytes)
	}
	obj, off := dev.ResolveMemoryObject(n.Dst)
	if obj == nil {
		return fmt.Errorf("memset node: destination %#x is not a known allocation", uint64(n.Dst))
	}
	span := n.Pitch*(n.Height*n.Depth-1) + rowBytes
	if rangeOverruns(off, span, obj.Size()) {
		return fmt.Errorf("memset node: %d bytes at offset %d overruns allocation of %d bytes",
			span, off, obj.Size())
	}
	if prev != nil {
		old := prev.normalized()
		if n.Height != old.Height || n.Depth != old.Depth {
			return fmt.Errorf("memset node: height/depth (%d,%d) must match instantiated extents (%d,%d)",
				n.Height, n.Depth, old.Height, old.Depth)
		}
	}
	return nil
}

// HostParams describes a host-callback node.
type HostParams struct {
	Fn  func(arg any)
	Arg any
}

// EventParams holds the event handle of a record or wait node.
type EventParams struct {
	Event device.Event
}

// MemAllocParams describes a graph-owned allocation. Ptr is assigned when
// the node is added and stays stable across launches: a re-allocation after
// a paired free re-claims the same address through the pool hint.
type MemAllocParams struct {
	Size uint64
	Ptr  device.Ptr
	// active tracks whether the address currently has backing storage.
	active bool
}

// MemFreeParams names the allocation a free node releases.
type MemFreeParams struct {
	Target device.Ptr
	// allocNode is the paired allocation node when Target was produced by
	// one in the same graph.
	allocNode *Node
}

// SetParams validates that other is structurally compatible with n (same
// kind, compatible copy direction, matching instantiated memset extents)
// and commits other's parameters only if validation passes. On failure n is
// left untouched.
func (n *Node) SetParams(other *Node) error {
	if other == nil {
		return fmt.Errorf("%w: nil source node", ErrInvalidHandle)
	}
	if n.kind != other.kind {
		return fmt.Errorf("%w: %s vs %s", ErrTypeMismatch, n.kind, other.kind)
	}
	switch n.kind {
	case KindKernel:
		return n.SetKernelParams(*other.kernel)
	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
		return n.SetMemcpyParams(*other.memcpy)
	case KindMemcpy3D:
		return n.SetMemcpy3DParams(*other.memcpy3D)
	case KindMemset:
		return n.SetMemsetParams(*other.memset)
	case KindHost:
		p := *other.host
		n.host = &p
		return nil
	case KindEventRecord, KindEventWait:
		p := *other.event
		n.event = &p
		n.InvalidatePackets()
		return nil
	}
	return fmt.Errorf("%w: %s nodes do not support parameter updates", ErrTypeMismatch, n.kind)
}

// SetKernelParams validates and commits new kernel parameters. The argument
// buffers are deep-copied.
func (n *Node) SetKernelParams(p KernelParams) error {
	if n.kind != KindKernel {
		return fmt.Errorf("%w: expected kernel node, have %s", ErrTypeMismatch, n.kind)
	}
	if err := p.validate(n.owner.dev); err != nil {
		return err
	}
	n.kernel = p.clone()
	n.InvalidatePackets()
	return nil
}

// SetMemcpyParams validates and commits new copy parameters.
func (n *Node) SetMemcpyParams(p MemcpyParams) error {
	switch n.kind {
	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
	default:
		return fmt.Errorf("%w: expected memcpy node, have %s", ErrTypeMismatch, n.kind)
	}
	if err := p.validate(n.owner.dev); err != nil {
		return err
	}
	c := p
	n.memcpy = &c
	n.InvalidatePackets()
	return nil
}

// SetMemcpy3DParams validates and commits new strided-copy parameters.
func (n *Node) SetMemcpy3DParams(p Memcpy3DParams) error {
	if n.kind != KindMemcpy3D {
		return fmt.Errorf("%w: expected memcpy3d node, have %s", ErrTypeMismatch, n.kind)
	}
	if err := p.validate(n.owner.dev); err != nil {
		return err
	}
	c := p
	n.memcpy3D = &c
	n.InvalidatePackets()
	return nil
}

// SetMemsetParams validates and commits new fill parameters, applying the
// stricter extent rule once the owning graph has been instantiated.
func (n *Node) SetMemsetParams(p MemsetParams) error {
	if n.kind != KindMemset {
		return fmt.Errorf("%w: expected memset node, have %s", ErrTypeMismatch, n.kind)
	}
	var prev *MemsetParams
	if n.owner != nil && n.owner.instantiated {
		prev = n.memset
	}
	if err := p.validate(n.owner.dev, prev); err != nil {
		return err
	}
	c := p
	n.memset = &c
	n.InvalidatePackets()
	return nil
}

// Validate re-checks the node's committed parameters, used by instantiation
// to fail fast before any queue work is created.
func (n *Node) Validate() error {
	switch n.kind {
	case KindKernel:
		return n.kernel.validate(n.owner.dev)
	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
		return n.memcpy.validate(n.owner.dev)
	case KindMemcpy3D:
		return n.memcpy3D.validate(n.owner.dev)
	case KindMemset:
		return n.memset.validate(n.owner.dev, nil)
	case KindHost:
		if n.host.Fn == nil {
			return fmt.Errorf("host node: nil callback")
		}
	case KindEventRecord, KindEventWait:
		if n.event.Event == nil {
			return fmt.Errorf("%s node: nil event", n.kind)
		}
	case KindMemAlloc:
		if n.memAlloc.Size == 0 {
			return fmt.Errorf("mem_alloc node: zero size")
		}
	case KindMemFree:
		if n.memFree.Target == device.NullPtr {
			return fmt.Errorf("mem_free node: null target")
		}
	case KindChildGraph:
		for _, cn := range n.child.vertices {
			if err := cn.Validate(); err != nil {
				return fmt.Errorf("child graph %d: %w", n.child.id, err)
			}
		}
	}
	return nil
}
