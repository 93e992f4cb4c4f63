package sim

import "sync"

// event is a re-armable synchronization point. Every record command takes a
// ticket at build time; the matching wait blocks its queue until the ticket
// it observed has completed. Tickets make cross-launch reuse safe: a wait
// built after a fresh record cannot be satisfied by a stale signal from a
// previous launch.
type event struct {
	id uint64

	mu        sync.Mutex
	cond      *sync.Cond
	armed     uint64 // tickets handed out
	completed uint64 // highest ticket completed
}

func (e *event) ID() uint64 { return e.id }

// Release is a no-op for simulated events; they are garbage collected.
func (e *event) Release() {}

// arm reserves the next ticket. Called host-side when a record command is
// built.
func (e *event) arm() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed++
	return e.armed
}

// lastArmed returns the most recent ticket, 0 if never recorded.
func (e *event) lastArmed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// complete marks a ticket done and wakes waiters. Runs on the recording
// queue's goroutine.
func (e *event) complete(ticket uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ticket > e.completed {
		e.completed = ticket
	}
	if e.cond != nil {
		e.cond.Broadcast()
	}
}

// waitFor blocks until the given ticket has completed. Runs on the waiting
// queue's goroutine.
func (e *event) waitFor(ticket uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cond == nil {
		e.cond = sync.NewCond(&e.mu)
	}
	for e.completed < ticket {
		e.cond.Wait()
	}
}
