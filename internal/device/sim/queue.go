package sim

import (
	"fmt"
	"sync"

	"github.com/accelgraph/accelgraph/internal/device"
)

// opChannelDepth bounds how far the host can run ahead of a queue.
const opChannelDepth = 1024

// op is one unit of device work executed on a queue's goroutine.
type op struct {
	run   func() error
	flush chan error // non-nil for synchronize points
}

// queue drains ops in FIFO order on a dedicated goroutine, the simulated
// equivalent of a hardware command stream.
type queue struct {
	id  uint64
	dev *Device
	ops chan op

	mu       sync.Mutex
	released bool
	// firstErr records the first device-side failure; later synchronizes
	// report it, mirroring sticky device error behavior.
	firstErr error
}

// CreateQueue starts a new command stream.
func (d *Device) CreateQueue() (device.Queue, error) {
	q := &queue{
		id:  d.queueSeq.Add(1),
		dev: d,
		ops: make(chan op, opChannelDepth),
	}
	go q.drain()
	return q, nil
}

func (q *queue) drain() {
	for o := range q.ops {
		if o.run != nil {
			if err := o.run(); err != nil {
				q.mu.Lock()
				if q.firstErr == nil {
					q.firstErr = err
				}
				q.mu.Unlock()
			}
		}
		if o.flush != nil {
			q.mu.Lock()
			err := q.firstErr
			q.mu.Unlock()
			o.flush <- err
		}
	}
}

func (q *queue) Device() device.Device { return q.dev }

func (q *queue) submit(run func() error) error {
	q.mu.Lock()
	released := q.released
	q.mu.Unlock()
	if released {
		return fmt.Errorf("submit to released queue %d", q.id)
	}
	q.ops <- op{run: run}
	return nil
}

func (q *queue) Synchronize() error {
	q.mu.Lock()
	released := q.released
	q.mu.Unlock()
	if released {
		return fmt.Errorf("synchronize on released queue %d", q.id)
	}
	flush := make(chan error, 1)
	q.ops <- op{flush: flush}
	return <-flush
}

func (q *queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return
	}
	q.released = true
	close(q.ops)
}

// command is a built-but-not-yet-submitted unit of work.
type command struct {
	q       *queue
	run     func() error
	packets []device.Packet
	waits   []device.Event
}

func (c *command) Enqueue() error {
	return c.q.submit(c.run)
}

func (c *command) Release() {
	c.run = nil
	c.packets = nil
	c.waits = nil
}

func (c *command) EventWaitList() []device.Event { return c.waits }

func (c *command) HardwarePackets() []device.Packet { return c.packets }

func (q *queue) KernelCommand(fn device.Function, grid, block device.Dim3, sharedMem uint32, args [][]byte) (device.Command, error) {
	f, ok := fn.(*function)
	if !ok {
		return nil, fmt.Errorf("function %q does not belong to this backend", fn.Name())
	}
	if err := q.dev.ValidateLaunchParams(fn, grid, block, sharedMem); err != nil {
		return nil, err
	}
	if len(args) != len(f.k.Params) {
		return nil, fmt.Errorf("kernel %q wants %d arguments, got %d", f.name, len(f.k.Params), len(args))
	}
	pkt, err := encodeKernelPacket(f.name, grid, block, sharedMem, args)
	if err != nil {
		return nil, err
	}
	return &command{
		q:       q,
		run:     func() error { return q.dev.dispatchKernel(f.name, grid, block, args) },
		packets: []device.Packet{pkt},
	}, nil
}

func (q *queue) CopyCommand(dst, src device.Ptr, n uint64, kind device.CopyKind) (device.Command, error) {
	if dst == device.NullPtr || src == device.NullPtr {
		return nil, fmt.Errorf("null pointer in %s copy", kind)
	}
	return &command{
		q:       q,
		run:     func() error { return q.dev.mem.copyRange(dst, src, n) },
		packets: []device.Packet{encodeCopyPacket(dst, src, n, kind)},
	}, nil
}

func (q *queue) FillCommand(dst device.Ptr, pattern []byte, count uint64) (device.Command, error) {
	if dst == device.NullPtr {
		return nil, fmt.Errorf("null fill destination")
	}
	if len(pattern) == 0 {
		return nil, fmt.Errorf("empty fill pattern")
	}
	pat := make([]byte, len(pattern))
	copy(pat, pattern)
	return &command{
		q:       q,
		run:     func() error { return q.dev.mem.fillRange(dst, pat, count) },
		packets: []device.Packet{encodeFillPacket(dst, pat, count)},
	}, nil
}

func (q *queue) MarkerCommand() (device.Command, error) {
	return &command{
		q:       q,
		run:     func() error { return nil },
		packets: []device.Packet{encodeMarkerPacket()},
	}, nil
}

func (q *queue) CallbackCommand(fn func()) (device.Command, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil callback")
	}
	return &command{
		q: q,
		run: func() error {
			go fn()
			return nil
		},
	}, nil
}

func (q *queue) HostWaitCommand(done <-chan struct{}) (device.Command, error) {
	if done == nil {
		return nil, fmt.Errorf("nil completion channel")
	}
	return &command{
		q: q,
		run: func() error {
			<-done
			return nil
		},
	}, nil
}

func (q *queue) EventRecordCommand(ev device.Event) (device.Command, error) {
	e, ok := ev.(*event)
	if !ok {
		return nil, fmt.Errorf("event does not belong to this backend")
	}
	ticket := e.arm()
	return &command{
		q: q,
		run: func() error {
			e.complete(ticket)
			return nil
		},
	}, nil
}

func (q *queue) EventWaitCommand(evs []device.Event) (device.Command, error) {
	type pending struct {
		e      *event
		ticket uint64
	}
	waits := make([]pending, 0, len(evs))
	for _, ev := range evs {
		e, ok := ev.(*event)
		if !ok {
			return nil, fmt.Errorf("event does not belong to this backend")
		}
		waits = append(waits, pending{e: e, ticket: e.lastArmed()})
	}
	return &command{
		q: q,
		run: func() error {
			for _, w := range waits {
				w.e.waitFor(w.ticket)
			}
			return nil
		},
		waits: evs,
	}, nil
}

// SubmitPackets decodes previously captured packets and executes them on the
// queue's goroutine, the simulated equivalent of a hardware doorbell ring.
func (q *queue) SubmitPackets(pkts []device.Packet) error {
	for _, pkt := range pkts {
		decoded, err := decodePacket(q.dev, pkt)
		if err != nil {
			return fmt.Errorf("packet %q: %w", pkt.Name, err)
		}
		if err := q.submit(decoded); err != nil {
			return err
		}
	}
	return nil
}

// dispatchKernel runs a registered kernel body on the queue goroutine.
func (d *Device) dispatchKernel(name string, grid, block device.Dim3, args [][]byte) error {
	d.mu.RLock()
	f, ok := d.kernels[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatch of unknown kernel %q", name)
	}
	return f.k.Fn(d, grid, block, args)
}
