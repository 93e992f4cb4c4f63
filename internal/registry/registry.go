// Package registry tracks every live Graph, Node, Executable, and UserObject
// in the process. Handles crossing thread or API boundaries are checked
// against these sets before dereferencing, turning use-after-destroy into an
// error instead of undefined behavior.
//
// The registries are process-wide state scoped to runtime init/teardown.
// Test suites must call Reset between cases to avoid cross-test leakage.
package registry

import "sync"

// Live is a mutex-guarded set of live handles.
type Live struct {
	mu    sync.Mutex
	items map[any]struct{}
}

// NewLive returns an empty handle set.
func NewLive() *Live {
	return &Live{items: make(map[any]struct{})}
}

// Register records h as live.
func (l *Live) Register(h any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[h] = struct{}{}
}

// Unregister removes h. Removing an unknown handle is a no-op.
func (l *Live) Unregister(h any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, h)
}

// IsAlive reports whether h is currently registered.
func (l *Live) IsAlive(h any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.items[h]
	return ok
}

// Len returns the number of live handles.
func (l *Live) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// reset empties the set.
func (l *Live) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[any]struct{})
}

// One registry per object class, each behind its own lock.
var (
	Graphs      = NewLive()
	Nodes       = NewLive()
	Executables = NewLive()
	UserObjects = NewLive()
)

// Reset clears all registries. For test teardown only.
func Reset() {
	Graphs.reset()
	Nodes.reset()
	Executables.reset()
	UserObjects.reset()
}
