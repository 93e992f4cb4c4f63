package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/accelgraph/accelgraph/internal/device"
)

// CreateCommands builds the device commands this node needs on q. It is
// idempotent per launch: previously built commands are dropped first. A
// disabled node builds a single ordering marker instead of its real work.
func (n *Node) CreateCommands(q device.Queue) error {
	n.releaseCommands()

	if !n.enabled {
		cmd, err := q.MarkerCommand()
		if err != nil {
			return err
		}
		n.commands = []device.Command{cmd}
		return nil
	}

	switch n.kind {
	case KindEmpty:
		cmd, err := q.MarkerCommand()
		if err != nil {
			return err
		}
		n.commands = []device.Command{cmd}

	case KindKernel:
		p := n.kernel
		args, err := p.materializedArgs()
		if err != nil {
			return fmt.Errorf("kernel node %d: %w", n.id, err)
		}
		cmd, err := q.KernelCommand(p.Fn, p.Grid, p.Block, p.SharedMem, args)
		if err != nil {
			return fmt.Errorf("kernel node %d: %w", n.id, err)
		}
		n.commands = []device.Command{cmd}

	case KindMemcpy, KindMemcpyToSymbol, KindMemcpyFromSymbol:
		p := n.memcpy
		kind, err := p.effectiveKind(q.Device())
		if err != nil {
			return fmt.Errorf("memcpy node %d: %w", n.id, err)
		}
		cmd, err := q.CopyCommand(p.Dst, p.Src, p.Bytes, kind)
		if err != nil {
			return fmt.Errorf("memcpy node %d: %w", n.id, err)
		}
		n.commands = []device.Command{cmd}

	case KindMemcpy3D:
		cmds, err := n.buildMemcpy3DCommands(q)
		if err != nil {
			return fmt.Errorf("memcpy3d node %d: %w", n.id, err)
		}
		n.commands = cmds

	case KindMemset:
		cmds, err := n.buildMemsetCommands(q)
		if err != nil {
			return fmt.Errorf("memset node %d: %w", n.id, err)
		}
		n.commands = cmds

	case KindHost:
		// Two-marker protocol: the first marker's completion callback runs
		// the user function; the second stalls the queue until the callback
		// returned, so no dependent starts before it.
		p := n.host
		done := make(chan struct{})
		first, err := q.CallbackCommand(func() {
			defer close(done)
			p.Fn(p.Arg)
		})
		if err != nil {
			return fmt.Errorf("host node %d: %w", n.id, err)
		}
		second, err := q.HostWaitCommand(done)
		if err != nil {
			first.Release()
			return fmt.Errorf("host node %d: %w", n.id, err)
		}
		n.commands = []device.Command{first, second}

	case KindEventRecord:
		cmd, err := q.EventRecordCommand(n.event.Event)
		if err != nil {
			return fmt.Errorf("event record node %d: %w", n.id, err)
		}
		n.commands = []device.Command{cmd}

	case KindEventWait:
		cmd, err := q.EventWaitCommand([]device.Event{n.event.Event})
		if err != nil {
			return fmt.Errorf("event wait node %d: %w", n.id, err)
		}
		n.commands = []device.Command{cmd}

	case KindMemAlloc:
		// Re-commit backing storage if a free node released it on a prior
		// launch; the pool hint re-claims the original address so captured
		// packets stay valid.
		p := n.memAlloc
		if !p.active {
			ptr, err := n.owner.pool.AllocateMemory(p.Size, q, p.Ptr)
			if err != nil {
				return fmt.Errorf("mem_alloc node %d: %w", n.id, err)
			}
			p.Ptr = ptr
			p.active = true
		}
		cmd, err := q.MarkerCommand()
		if err != nil {
			return err
		}
		n.commands = []device.Command{cmd}

	case KindMemFree:
		p := n.memFree
		pool := n.owner.pool
		done := make(chan struct{})
		first, err := q.CallbackCommand(func() {
			defer close(done)
			if err := pool.FreeMemory(p.Target, q); err == nil && p.allocNode != nil {
				p.allocNode.memAlloc.active = false
			}
		})
		if err != nil {
			return fmt.Errorf("mem_free node %d: %w", n.id, err)
		}
		second, err := q.HostWaitCommand(done)
		if err != nil {
			first.Release()
			return fmt.Errorf("mem_free node %d: %w", n.id, err)
		}
		n.commands = []device.Command{first, second}

	case KindChildGraph:
		// Children build their commands during the enqueue walk so the
		// create/enqueue pairing stays per-node.

	default:
		return fmt.Errorf("node %d: unhandled kind %s", n.id, n.kind)
	}
	return nil
}

func (n *Node) buildMemcpy3DCommands(q device.Queue) ([]device.Command, error) {
	p := n.memcpy3D.normalized()
	kind, err := (&MemcpyParams{Dst: p.Dst, Src: p.Src, Kind: p.Kind}).effectiveKind(q.Device())
	if err != nil {
		return nil, err
	}

	if p.DstPitch == p.Width && p.SrcPitch == p.Width {
		// Tight layout on both ends collapses to one linear copy.
		cmd, err := q.CopyCommand(p.Dst, p.Src, p.Width*p.Height*p.Depth, kind)
		if err != nil {
			return nil, err
		}
		return []device.Command{cmd}, nil
	}

	var cmds []device.Command
	dstSlice := p.DstPitch * p.Height
	srcSlice := p.SrcPitch * p.Height
	for z := uint64(0); z < p.Depth; z++ {
		for y := uint64(0); y < p.Height; y++ {
			dst := p.Dst + device.Ptr(z*dstSlice+y*p.DstPitch)
			src := p.Src + device.Ptr(z*srcSlice+y*p.SrcPitch)
			cmd, err := q.CopyCommand(dst, src, p.Width, kind)
			if err != nil {
				for _, c := range cmds {
					c.Release()
				}
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

func (n *Node) buildMemsetCommands(q device.Queue) ([]device.Command, error) {
	p := n.memset.normalized()
	pattern := make([]byte, p.ElemSize)
	switch p.ElemSize {
	case 1:
		pattern[0] = byte(p.Value)
	case 2:
		binary.LittleEndian.PutUint16(pattern, uint16(p.Value))
	case 4:
		binary.LittleEndian.PutUint32(pattern, p.Value)
	}

	rowBytes := p.Width * uint64(p.ElemSize)
	if p.Pitch == rowBytes {
		// Tight layout collapses to one fill.
		cmd, err := q.FillCommand(p.Dst, pattern, p.Width*p.Height*p.Depth)
		if err != nil {
			return nil, err
		}
		return []device.Command{cmd}, nil
	}

	var cmds []device.Command
	slicePitch := p.Pitch * p.Height
	for z := uint64(0); z < p.Depth; z++ {
		for y := uint64(0); y < p.Height; y++ {
			dst := p.Dst + device.Ptr(z*slicePitch+y*p.Pitch)
			cmd, err := q.FillCommand(dst, pattern, p.Width)
			if err != nil {
				for _, c := range cmds {
					c.Release()
				}
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

// EnqueueCommands submits the built commands to q and releases them. With
// capture set, the commands' hardware packets are harvested first and become
// the node's replay cache.
func (n *Node) EnqueueCommands(q device.Queue, capture bool) error {
	if n.kind == KindChildGraph && n.enabled {
		return n.enqueueChildGraph(q, capture)
	}

	captureThis := capture && n.GraphCaptureEnabled()
	var pkts []device.Packet
	for i, cmd := range n.commands {
		if captureThis {
			pkts = append(pkts, cmd.HardwarePackets()...)
		}
		if err := cmd.Enqueue(); err != nil {
			for _, rest := range n.commands[i:] {
				rest.Release()
			}
			n.commands = nil
			return fmt.Errorf("node %d (%s): %w", n.id, n.kind, err)
		}
		cmd.Release()
	}
	n.commands = nil

	if captureThis {
		n.packets = pkts
		n.packetsValid = true
		if len(pkts) > 0 {
			n.capturedName = pkts[0].Name
		}
	}
	return nil
}

// enqueueChildGraph walks the embedded graph's own topological order on the
// parent node's queue, then flattens the children's captured packets into a
// single replayable list for this node.
func (n *Node) enqueueChildGraph(q device.Queue, capture bool) error {
	order, err := n.child.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("child graph node %d: %w", n.id, err)
	}
	for _, cn := range order {
		if err := cn.CreateCommands(q); err != nil {
			return fmt.Errorf("child graph node %d: %w", n.id, err)
		}
		if err := cn.EnqueueCommands(q, capture); err != nil {
			return fmt.Errorf("child graph node %d: %w", n.id, err)
		}
	}
	if capture && n.GraphCaptureEnabled() {
		var flat []device.Packet
		for _, cn := range order {
			flat = append(flat, cn.packets...)
		}
		n.packets = flat
		n.packetsValid = true
		n.capturedName = fmt.Sprintf("graph_%d", n.child.id)
	}
	return nil
}

// ReplayPackets resubmits the node's captured packets, bypassing command
// creation entirely.
func (n *Node) ReplayPackets(q device.Queue) error {
	if !n.packetsValid {
		return fmt.Errorf("node %d: no valid packets to replay", n.id)
	}
	return q.SubmitPackets(n.packets)
}

func (n *Node) releaseCommands() {
	for _, cmd := range n.commands {
		cmd.Release()
	}
	n.commands = nil
}
