package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/accelgraph/accelgraph/internal/ctxlog"
	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/graph"
)

// Launch submits one execution of the graph, ordered after all prior work on
// caller and completing before any later work submitted to caller. The call
// returns once submission finishes; device-side execution proceeds
// asynchronously on the executable's queue pool.
//
// The first launch builds and submits device commands per node, capturing
// hardware packets where the node supports it. Later launches resubmit the
// captured packets for every node whose parameters are unchanged. The first
// submission error aborts the remaining nodes; work already submitted keeps
// draining, so a failed launch leaves device-side effects partially applied.
func (e *Executable) Launch(ctx context.Context, caller device.Queue) error {
	if e.destroyed.Load() {
		return ErrNotInstantiated
	}
	if caller == nil {
		return fmt.Errorf("launch: nil caller queue")
	}

	e.launchMu.Lock()
	defer e.launchMu.Unlock()

	seq := e.launchSeq.Add(1)
	logger := ctxlog.FromContext(ctx).With(
		"executable", e.id.String(),
		"launch_seq", seq,
		"launch_id", uuid.NewString(),
	)

	// Entry fence: the pool starts only after everything already submitted
	// to the caller's queue.
	if err := e.recordEvent(caller, e.entryEv); err != nil {
		return fmt.Errorf("launch: entry fence: %w", err)
	}
	for _, q := range e.queues {
		if err := e.waitEvents(q, e.entryEv); err != nil {
			return fmt.Errorf("launch: entry fence: %w", err)
		}
	}

	type retained struct {
		ptr device.Ptr
		q   device.Queue
	}
	var allocs []retained

	for i, n := range e.order {
		q := e.queues[e.plan.QueueOf[i]]

		for j, w := range e.plan.WaitsFor[i] {
			ev := e.barrierEvs[i][j]
			if err := e.recordEvent(e.queues[w.Queue], ev); err != nil {
				return fmt.Errorf("launch: node %d barrier: %w", n.ID(), err)
			}
			if err := e.waitEvents(q, ev); err != nil {
				return fmt.Errorf("launch: node %d barrier: %w", n.ID(), err)
			}
		}

		if e.capture && n.PacketsValid() {
			if err := n.ReplayPackets(q); err != nil {
				return fmt.Errorf("launch: node %d replay: %w", n.ID(), err)
			}
			logger.Debug("Node replayed from packet cache.", "node", uint64(n.ID()), "name", n.CapturedName())
			continue
		}

		if err := n.CreateCommands(q); err != nil {
			return fmt.Errorf("launch: node %d: %w", n.ID(), err)
		}
		if err := n.EnqueueCommands(q, e.capture); err != nil {
			return fmt.Errorf("launch: node %d: %w", n.ID(), err)
		}
		if n.Kind() == graph.KindMemAlloc {
			if ptr, ok := n.AllocatedPtr(); ok {
				e.clone.Pool().Retain(ptr)
				allocs = append(allocs, retained{ptr: ptr, q: q})
			}
		}
	}

	// Drop the in-flight references once each allocation's queue drains
	// this launch's work.
	pool := e.clone.Pool()
	for _, a := range allocs {
		a := a
		cmd, err := a.q.CallbackCommand(func() { pool.Idle(a.ptr) })
		if err != nil {
			return fmt.Errorf("launch: allocation release: %w", err)
		}
		if err := cmd.Enqueue(); err != nil {
			return fmt.Errorf("launch: allocation release: %w", err)
		}
		cmd.Release()
	}

	// Exit fence: the caller's queue resumes only after every pool queue
	// finished this launch.
	for qi, q := range e.queues {
		if err := e.recordEvent(q, e.exitEvs[qi]); err != nil {
			return fmt.Errorf("launch: exit fence: %w", err)
		}
	}
	if err := e.waitEvents(caller, e.exitEvs...); err != nil {
		return fmt.Errorf("launch: exit fence: %w", err)
	}

	logger.Debug("Launch submitted.", "nodes", len(e.order))
	return nil
}

// Synchronize blocks the host until every queue in the pool has drained.
func (e *Executable) Synchronize(ctx context.Context) error {
	if e.destroyed.Load() {
		return ErrNotInstantiated
	}
	var eg errgroup.Group
	for _, q := range e.queues {
		q := q
		eg.Go(q.Synchronize)
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	return nil
}

func (e *Executable) recordEvent(q device.Queue, ev device.Event) error {
	cmd, err := q.EventRecordCommand(ev)
	if err != nil {
		return err
	}
	if err := cmd.Enqueue(); err != nil {
		cmd.Release()
		return err
	}
	cmd.Release()
	return nil
}

func (e *Executable) waitEvents(q device.Queue, evs ...device.Event) error {
	cmd, err := q.EventWaitCommand(evs)
	if err != nil {
		return err
	}
	if err := cmd.Enqueue(); err != nil {
		cmd.Release()
		return err
	}
	cmd.Release()
	return nil
}
