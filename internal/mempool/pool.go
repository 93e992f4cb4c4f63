// Package mempool provides the graph-scoped memory pool consumed by memory
// allocation and free nodes. It sits on top of the backend's raw allocator
// and remembers freed addresses so a re-launched graph can re-claim the same
// address, which keeps captured packets valid across launches.
package mempool

import (
	"fmt"
	"sync"

	"github.com/accelgraph/accelgraph/internal/device"
)

// Pool is a graph-scoped allocation arena. Safe for concurrent use; free
// commands run on queue goroutines while the host thread drives launches.
type Pool struct {
	alloc device.Allocator

	mu     sync.Mutex
	active map[device.Ptr]uint64 // live allocations by size
	busy   map[device.Ptr]int    // outstanding device-side references
}

// New creates a pool over the given raw allocator.
func New(alloc device.Allocator) *Pool {
	return &Pool{
		alloc:  alloc,
		active: make(map[device.Ptr]uint64),
		busy:   make(map[device.Ptr]int),
	}
}

// AllocateMemory reserves size bytes of device memory. A non-null hint asks
// the allocator for the address a previous incarnation of the allocation
// used.
func (p *Pool) AllocateMemory(size uint64, _ device.Queue, hint device.Ptr) (device.Ptr, error) {
	ptr, err := p.alloc.Alloc(size, false, hint)
	if err != nil {
		return device.NullPtr, fmt.Errorf("pool allocation of %d bytes: %w", size, err)
	}
	p.mu.Lock()
	p.active[ptr] = size
	p.mu.Unlock()
	return ptr, nil
}

// FreeMemory releases an allocation back to the device.
func (p *Pool) FreeMemory(ptr device.Ptr, _ device.Queue) error {
	p.mu.Lock()
	_, ok := p.active[ptr]
	if ok {
		delete(p.active, ptr)
		delete(p.busy, ptr)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("pool free of unknown address %#x", uint64(ptr))
	}
	return p.alloc.Free(ptr)
}

// IsBusy reports whether device-side work still references ptr.
func (p *Pool) IsBusy(ptr device.Ptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy[ptr] > 0
}

// Retain marks ptr as referenced by in-flight device work.
func (p *Pool) Retain(ptr device.Ptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy[ptr]++
}

// Idle drops one in-flight reference to ptr.
func (p *Pool) Idle(ptr device.Ptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[ptr] > 0 {
		p.busy[ptr]--
	}
}

// Active reports whether ptr is currently allocated from this pool.
func (p *Pool) Active(ptr device.Ptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[ptr]
	return ok
}

// ReleaseAll frees every outstanding allocation. Graph destruction calls
// this to clean up allocation nodes whose paired free node was never added.
// Busy allocations are skipped and returned so the caller can report them.
func (p *Pool) ReleaseAll() []device.Ptr {
	p.mu.Lock()
	var toFree, leaked []device.Ptr
	for ptr := range p.active {
		if p.busy[ptr] > 0 {
			leaked = append(leaked, ptr)
			continue
		}
		toFree = append(toFree, ptr)
	}
	for _, ptr := range toFree {
		delete(p.active, ptr)
		delete(p.busy, ptr)
	}
	p.mu.Unlock()

	for _, ptr := range toFree {
		// Allocator errors at teardown are unreachable for addresses the
		// pool still tracked; ignore them to keep destruction total.
		_ = p.alloc.Free(ptr)
	}
	return leaked
}

// OutstandingCount returns the number of live allocations.
func (p *Pool) OutstandingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
