// Package device defines the contract between the execution-graph engine and
// the low-level device backend: queues, commands, events, kernel resolution,
// and raw memory. The engine never looks inside a hardware packet; it treats
// everything a backend hands back as opaque.
package device

import "fmt"

// Ptr is an opaque device-address handle. Zero is the null pointer.
type Ptr uint64

// NullPtr is the zero device address.
const NullPtr Ptr = 0

// Dim3 describes a three-dimensional launch extent.
type Dim3 struct {
	X, Y, Z uint32
}

// Count returns the total number of elements covered by the extent.
func (d Dim3) Count() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

// CopyKind names the direction of a memory copy.
type CopyKind int

const (
	// CopyDefault lets the engine infer the direction from memory residency.
	CopyDefault CopyKind = iota
	CopyHostToHost
	CopyHostToDevice
	CopyDeviceToHost
	CopyDeviceToDevice
)

func (k CopyKind) String() string {
	switch k {
	case CopyDefault:
		return "default"
	case CopyHostToHost:
		return "h2h"
	case CopyHostToDevice:
		return "h2d"
	case CopyDeviceToHost:
		return "d2h"
	case CopyDeviceToDevice:
		return "d2d"
	}
	return "unknown"
}

// ParamDesc describes one kernel parameter slot.
type ParamDesc struct {
	Size    uint32
	Align   uint32
	Pointer bool // argument is a device address
}

// Function is a dispatchable kernel resolved by the backend's loader.
type Function interface {
	Name() string
	Signature() []ParamDesc
	// HiddenHeap reports whether dispatching this function requires the
	// implicit device heap to be resident.
	HiddenHeap() bool
}

// Limits holds the device launch limits used to validate kernel parameters.
type Limits struct {
	MaxBlockDim          Dim3
	MaxGridDim           Dim3
	MaxThreadsPerBlock   uint32
	MaxSharedMemPerBlock uint32
}

// MemObject is the backend's record of one allocation. ResolveMemoryObject
// maps an arbitrary address back to the object that owns it.
type MemObject interface {
	Base() Ptr
	Size() uint64
	HostResident() bool
	// Extents returns the recorded width/height/depth of the allocation in
	// bytes/rows/slices. Linear allocations report (Size, 1, 1).
	Extents() (width, height, depth uint64)
}

// Packet is one captured hardware dispatch packet. The payload layout is
// backend ABI and invisible to the engine; Name is the symbolic name captured
// alongside it for diagnostics.
type Packet struct {
	Name string
	Data []byte
}

// Command is one unit of work built against a queue but not yet submitted.
type Command interface {
	// Enqueue submits the command to its queue.
	Enqueue() error
	// Release returns the command's resources to the backend. The command is
	// unusable afterwards.
	Release()
	// EventWaitList returns the events this command waits on, if any.
	EventWaitList() []Event
	// HardwarePackets returns the dispatch packets this command would submit,
	// for capture-and-replay. Must be called before Release. Commands with no
	// replayable packet form return nil.
	HardwarePackets() []Packet
}

// Event is a device-side synchronization primitive. Recording re-arms it;
// waiting blocks the waiting queue until the matching record completes.
type Event interface {
	ID() uint64
	Release()
}

// Queue is an ordered, asynchronous device command stream. Within a queue,
// submission order is execution order.
type Queue interface {
	Device() Device

	KernelCommand(fn Function, grid, block Dim3, sharedMem uint32, args [][]byte) (Command, error)
	CopyCommand(dst, src Ptr, n uint64, kind CopyKind) (Command, error)
	FillCommand(dst Ptr, pattern []byte, count uint64) (Command, error)
	// MarkerCommand is a no-op ordering point.
	MarkerCommand() (Command, error)
	// CallbackCommand completes the marker, then invokes fn asynchronously.
	CallbackCommand(fn func()) (Command, error)
	// HostWaitCommand stalls the queue (not the host) until done is closed.
	HostWaitCommand(done <-chan struct{}) (Command, error)
	EventRecordCommand(ev Event) (Command, error)
	EventWaitCommand(evs []Event) (Command, error)

	// SubmitPackets replays previously captured packets directly, bypassing
	// command construction.
	SubmitPackets(pkts []Packet) error

	// Synchronize blocks the host until all submitted work has completed.
	Synchronize() error
	Release()
}

// Allocator is the raw memory facility beneath the graph-scoped pool.
type Allocator interface {
	// Alloc reserves size bytes. A non-null hint asks for the same address a
	// prior allocation used, which backends honor when the range is free.
	Alloc(size uint64, host bool, hint Ptr) (Ptr, error)
	Free(p Ptr) error
}

// MemoryPool is the graph-scoped allocation facility consumed by memory
// allocation and free nodes.
type MemoryPool interface {
	AllocateMemory(size uint64, q Queue, hint Ptr) (Ptr, error)
	FreeMemory(p Ptr, q Queue) error
	IsBusy(p Ptr) bool
}

// Device is the backend root object.
type Device interface {
	Limits() Limits
	ValidateLaunchParams(fn Function, grid, block Dim3, sharedMem uint32) error
	ResolveFunction(name string) (Function, error)
	// ResolveMemoryObject returns the allocation owning p and the offset of p
	// within it, or (nil, 0) when p is not backed by a known allocation.
	ResolveMemoryObject(p Ptr) (MemObject, uint64)
	// ResolveSymbol returns the address and size of a named device symbol.
	ResolveSymbol(name string) (Ptr, uint64, error)
	CreateQueue() (Queue, error)
	CreateEvent() (Event, error)
	Allocator() Allocator
}
