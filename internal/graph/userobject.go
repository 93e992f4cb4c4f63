package graph

import (
	"fmt"
	"sync"

	"github.com/accelgraph/accelgraph/internal/registry"
)

// UserObject is a reference-counted external resource whose lifetime one or
// more graphs can extend. The destructor callback fires exactly once, when
// the count reaches zero.
type UserObject struct {
	mu      sync.Mutex
	refs    int
	destroy func()
	// graphs is the set of graphs currently holding ownership records.
	graphs map[*Graph]struct{}
}

// NewUserObject creates a user object holding initialRefs references.
// destroy may be nil.
func NewUserObject(initialRefs int, destroy func()) (*UserObject, error) {
	if initialRefs <= 0 {
		return nil, fmt.Errorf("user object: initial reference count must be positive")
	}
	u := &UserObject{refs: initialRefs, destroy: destroy, graphs: make(map[*Graph]struct{})}
	registry.UserObjects.Register(u)
	return u, nil
}

// Refs returns the current reference count.
func (u *UserObject) Refs() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.refs
}

// Retain adds count references.
func (u *UserObject) Retain(count int) error {
	if count <= 0 {
		return fmt.Errorf("user object: retain count must be positive")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.refs == 0 {
		return fmt.Errorf("%w: user object already destroyed", ErrInvalidHandle)
	}
	u.refs += count
	return nil
}

// Release drops count references, firing the destructor when the count
// reaches zero.
func (u *UserObject) Release(count int) error {
	if count <= 0 {
		return fmt.Errorf("user object: release count must be positive")
	}
	u.mu.Lock()
	if count > u.refs {
		u.mu.Unlock()
		return fmt.Errorf("user object: release of %d exceeds %d held references", count, u.refs)
	}
	u.refs -= count
	dead := u.refs == 0
	destroy := u.destroy
	u.mu.Unlock()

	if dead {
		registry.UserObjects.Unregister(u)
		if destroy != nil {
			destroy()
		}
	}
	return nil
}

func (u *UserObject) attachGraph(g *Graph) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.graphs[g] = struct{}{}
}

func (u *UserObject) detachGraph(g *Graph) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.graphs, g)
}

// otherOwners returns every graph other than g holding an ownership record.
func (u *UserObject) otherOwners(g *Graph) []*Graph {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []*Graph
	for owner := range u.graphs {
		if owner != g {
			out = append(out, owner)
		}
	}
	return out
}

// AttachUserObject gives the graph count units of ownership over u,
// retaining u by the same amount.
func (g *Graph) AttachUserObject(u *UserObject, count int) error {
	if g.destroyed {
		return ErrDestroyed
	}
	if u == nil || !registry.UserObjects.IsAlive(u) {
		return fmt.Errorf("%w: user object", ErrInvalidHandle)
	}
	if err := u.Retain(count); err != nil {
		return err
	}
	g.userObjects[u] += count
	u.attachGraph(g)
	return nil
}

// ReleaseUserObject drops count units of the graph's ownership over u.
func (g *Graph) ReleaseUserObject(u *UserObject, count int) error {
	owned, ok := g.userObjects[u]
	if !ok {
		return fmt.Errorf("%w: user object not attached to graph %d", ErrInvalidHandle, g.id)
	}
	if count > owned {
		return fmt.Errorf("user object: graph %d owns %d references, cannot release %d", g.id, owned, count)
	}
	if count == owned {
		delete(g.userObjects, u)
		u.detachGraph(g)
	} else {
		g.userObjects[u] -= count
	}
	return u.Release(count)
}

// releaseUserObjects applies destruction-time ownership bookkeeping: each
// attached object is released by exactly the count this graph owned. When
// this graph holds the only remaining references, the object is first
// detached from every other owning graph so no stale ownership record
// survives the destructor.
func (g *Graph) releaseUserObjects() {
	for u, owned := range g.userObjects {
		if u.Refs() == owned {
			for _, other := range u.otherOwners(g) {
				delete(other.userObjects, u)
				u.detachGraph(other)
			}
		}
		u.detachGraph(g)
		// The graph cannot own more references than exist; Release errors
		// are unreachable here.
		_ = u.Release(owned)
	}
	g.userObjects = nil
}
