// Package sim is an in-process device backend. Queues are goroutines
// draining FIFO op channels, memory is plain byte slices behind a simulated
// address space, and kernels are registered Go functions. It exists so the
// graph engine's ordering, barrier, capture and replay semantics are
// observable end to end without hardware.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/accelgraph/accelgraph/internal/device"
)

// KernelFunc is the body of a simulated kernel. args holds one byte slice
// per declared parameter; pointer parameters carry a little-endian
// device.Ptr.
type KernelFunc func(d *Device, grid, block device.Dim3, args [][]byte) error

// Kernel bundles a simulated kernel body with its dispatch metadata.
type Kernel struct {
	Params     []device.ParamDesc
	Fn         KernelFunc
	HiddenHeap bool
}

type function struct {
	name string
	k    Kernel
}

func (f *function) Name() string                 { return f.name }
func (f *function) Signature() []device.ParamDesc { return f.k.Params }
func (f *function) HiddenHeap() bool             { return f.k.HiddenHeap }

// Device is the simulated backend root. Safe for concurrent use.
type Device struct {
	mem    *memory
	limits device.Limits

	mu      sync.RWMutex
	kernels map[string]*function
	symbols map[string]symbol

	eventSeq atomic.Uint64
	queueSeq atomic.Uint64
}

type symbol struct {
	ptr  device.Ptr
	size uint64
}

// New creates a simulated device with default launch limits.
func New() *Device {
	d := &Device{
		mem: newMemory(),
		limits: device.Limits{
			MaxBlockDim:          device.Dim3{X: 1024, Y: 1024, Z: 64},
			MaxGridDim:           device.Dim3{X: 1<<31 - 1, Y: 65535, Z: 65535},
			MaxThreadsPerBlock:   1024,
			MaxSharedMemPerBlock: 48 * 1024,
		},
		kernels: make(map[string]*function),
		symbols: make(map[string]symbol),
	}
	registerBuiltins(d)
	return d
}

func (d *Device) Limits() device.Limits { return d.limits }

// RegisterKernel installs a named kernel. Re-registering a name replaces the
// previous body, which tests use to stub behavior.
func (d *Device) RegisterKernel(name string, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[name] = &function{name: name, k: k}
}

// RegisterSymbol allocates device storage for a named symbol and returns its
// address.
func (d *Device) RegisterSymbol(name string, size uint64) (device.Ptr, error) {
	p, err := d.mem.alloc(size, false, device.NullPtr)
	if err != nil {
		return device.NullPtr, err
	}
	d.mu.Lock()
	d.symbols[name] = symbol{ptr: p, size: size}
	d.mu.Unlock()
	return p, nil
}

func (d *Device) ResolveFunction(name string) (device.Function, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.kernels[name]
	if !ok {
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
	return f, nil
}

func (d *Device) ResolveSymbol(name string) (device.Ptr, uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.symbols[name]
	if !ok {
		return device.NullPtr, 0, fmt.Errorf("unknown symbol %q", name)
	}
	return s.ptr, s.size, nil
}

func (d *Device) ResolveMemoryObject(p device.Ptr) (device.MemObject, uint64) {
	a, off := d.mem.resolve(p)
	if a == nil {
		return nil, 0
	}
	return a, off
}

func (d *Device) ValidateLaunchParams(fn device.Function, grid, block device.Dim3, sharedMem uint32) error {
	if fn == nil {
		return fmt.Errorf("nil function")
	}
	if grid.Count() == 0 || block.Count() == 0 {
		return fmt.Errorf("zero launch extent: grid %s block %s", grid, block)
	}
	l := d.limits
	if block.X > l.MaxBlockDim.X || block.Y > l.MaxBlockDim.Y || block.Z > l.MaxBlockDim.Z {
		return fmt.Errorf("block %s exceeds device limit %s", block, l.MaxBlockDim)
	}
	if grid.X > l.MaxGridDim.X || grid.Y > l.MaxGridDim.Y || grid.Z > l.MaxGridDim.Z {
		return fmt.Errorf("grid %s exceeds device limit %s", grid, l.MaxGridDim)
	}
	if block.Count() > uint64(l.MaxThreadsPerBlock) {
		return fmt.Errorf("%d threads per block exceeds device limit %d", block.Count(), l.MaxThreadsPerBlock)
	}
	if sharedMem > l.MaxSharedMemPerBlock {
		return fmt.Errorf("shared memory %d exceeds device limit %d", sharedMem, l.MaxSharedMemPerBlock)
	}
	return nil
}

func (d *Device) CreateEvent() (device.Event, error) {
	return &event{id: d.eventSeq.Add(1)}, nil
}

func (d *Device) Allocator() device.Allocator { return (*allocator)(d) }

// allocator adapts the device's memory to the device.Allocator interface.
type allocator Device

func (a *allocator) Alloc(size uint64, host bool, hint device.Ptr) (device.Ptr, error) {
	return (*Device)(a).mem.alloc(size, host, hint)
}

func (a *allocator) Free(p device.Ptr) error {
	return (*Device)(a).mem.free(p)
}

// AllocBuffer reserves a buffer outside any pool; tests and the CLI use it
// for application-owned storage.
func (d *Device) AllocBuffer(size uint64, host bool) (device.Ptr, error) {
	return d.mem.alloc(size, host, device.NullPtr)
}

// AllocBuffer3D reserves a pitched buffer of height*depth rows of width
// bytes each and records those extents, which strided-copy validation
// checks row shapes against.
func (d *Device) AllocBuffer3D(width, height, depth uint64, host bool) (device.Ptr, error) {
	if height == 0 {
		height = 1
	}
	if depth == 0 {
		depth = 1
	}
	p, err := d.mem.alloc(width*height*depth, host, device.NullPtr)
	if err != nil {
		return device.NullPtr, err
	}
	d.mem.setExtents(p, width, height, depth)
	return p, nil
}

// FreeBuffer releases a buffer obtained from AllocBuffer.
func (d *Device) FreeBuffer(p device.Ptr) error {
	return d.mem.free(p)
}

// ReadBuffer copies n bytes out of simulated memory.
func (d *Device) ReadBuffer(p device.Ptr, n uint64) ([]byte, error) {
	s, err := d.mem.slice(p, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s)
	return out, nil
}

// WriteBuffer copies data into simulated memory.
func (d *Device) WriteBuffer(p device.Ptr, data []byte) error {
	s, err := d.mem.slice(p, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}
