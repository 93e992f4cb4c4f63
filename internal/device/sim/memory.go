package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/accelgraph/accelgraph/internal/device"
)

// allocGranularity keeps simulated addresses aligned the way real device
// allocators do, so address arithmetic in tests looks realistic.
const allocGranularity = 256

// allocation is one live simulated buffer.
type allocation struct {
	base   device.Ptr
	data   []byte
	host   bool
	width  uint64
	height uint64
	depth  uint64
}

func (a *allocation) Base() device.Ptr   { return a.base }
func (a *allocation) Size() uint64       { return uint64(len(a.data)) }
func (a *allocation) HostResident() bool { return a.host }

func (a *allocation) Extents() (uint64, uint64, uint64) {
	return a.width, a.height, a.depth
}

// memory is the simulated address space. Addresses are handed out from a
// bump cursor; freed ranges can be re-claimed through an allocation hint,
// which is what keeps replayed packets pointing at valid storage.
type memory struct {
	mu     sync.RWMutex
	cursor device.Ptr
	allocs map[device.Ptr]*allocation
	bases  []device.Ptr // sorted, mirrors allocs keys
}

func newMemory() *memory {
	return &memory{
		cursor: allocGranularity, // keep 0 as the null address
		allocs: make(map[device.Ptr]*allocation),
	}
}

func roundUp(n uint64, to uint64) uint64 {
	return (n + to - 1) / to * to
}

// alloc reserves size bytes. A non-null hint re-claims that exact address if
// the range is currently free.
func (m *memory) alloc(size uint64, host bool, hint device.Ptr) (device.Ptr, error) {
	if size == 0 {
		return device.NullPtr, fmt.Errorf("zero-size allocation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base := hint
	if base == device.NullPtr || !m.rangeFree(base, size) {
		base = m.cursor
		m.cursor += device.Ptr(roundUp(size, allocGranularity))
	}

	a := &allocation{
		base:   base,
		data:   make([]byte, size),
		host:   host,
		width:  size,
		height: 1,
		depth:  1,
	}
	m.insert(a)
	return base, nil
}

func (m *memory) free(p device.Ptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.allocs[p]; !ok {
		return fmt.Errorf("free of unknown address %#x", uint64(p))
	}
	delete(m.allocs, p)
	i := sort.Search(len(m.bases), func(i int) bool { return m.bases[i] >= p })
	m.bases = append(m.bases[:i], m.bases[i+1:]...)
	return nil
}

// setExtents records a pitched shape for a live allocation.
func (m *memory) setExtents(p device.Ptr, width, height, depth uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allocs[p]; ok {
		a.width, a.height, a.depth = width, height, depth
	}
}

// rangeFree reports whether [base, base+size) overlaps no live allocation.
// Caller holds m.mu.
func (m *memory) rangeFree(base device.Ptr, size uint64) bool {
	end := uint64(base) + size
	for _, b := range m.bases {
		a := m.allocs[b]
		aEnd := uint64(a.base) + a.Size()
		if uint64(a.base) < end && uint64(base) < aEnd {
			return false
		}
	}
	return true
}

// insert records a new allocation. Caller holds m.mu.
func (m *memory) insert(a *allocation) {
	m.allocs[a.base] = a
	i := sort.Search(len(m.bases), func(i int) bool { return m.bases[i] >= a.base })
	m.bases = append(m.bases, 0)
	copy(m.bases[i+1:], m.bases[i:])
	m.bases[i] = a.base
}

// resolve maps an arbitrary address to its owning allocation and offset.
func (m *memory) resolve(p device.Ptr) (*allocation, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.bases), func(i int) bool { return m.bases[i] > p })
	if i == 0 {
		return nil, 0
	}
	a := m.allocs[m.bases[i-1]]
	off := uint64(p - a.base)
	if off >= a.Size() {
		return nil, 0
	}
	return a, off
}

// slice returns the backing bytes for [p, p+n), bounds-checked against the
// owning allocation.
func (m *memory) slice(p device.Ptr, n uint64) ([]byte, error) {
	a, off := m.resolve(p)
	if a == nil {
		return nil, fmt.Errorf("unmapped address %#x", uint64(p))
	}
	if off+n > a.Size() {
		return nil, fmt.Errorf("access of %d bytes at %#x overruns allocation of %d bytes",
			n, uint64(p), a.Size())
	}
	return a.data[off : off+n], nil
}

func (m *memory) copyRange(dst, src device.Ptr, n uint64) error {
	d, err := m.slice(dst, n)
	if err != nil {
		return fmt.Errorf("copy destination: %w", err)
	}
	s, err := m.slice(src, n)
	if err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	copy(d, s)
	return nil
}

func (m *memory) fillRange(dst device.Ptr, pattern []byte, count uint64) error {
	if len(pattern) == 0 {
		return fmt.Errorf("empty fill pattern")
	}
	d, err := m.slice(dst, count*uint64(len(pattern)))
	if err != nil {
		return fmt.Errorf("fill destination: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		copy(d[i*uint64(len(pattern)):], pattern)
	}
	return nil
}
