package executor

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/device/sim"
	"github.com/accelgraph/accelgraph/internal/graph"
	"github.com/accelgraph/accelgraph/internal/registry"
)

var one = device.Dim3{X: 1, Y: 1, Z: 1}

type fixture struct {
	dev    *sim.Device
	caller device.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Cleanup(registry.Reset)
	dev := sim.New()
	caller, err := dev.CreateQueue()
	require.NoError(t, err)
	t.Cleanup(caller.Release)
	return &fixture{dev: dev, caller: caller}
}

func (f *fixture) kernel(t *testing.T, name string, args ...[]byte) graph.KernelParams {
	t.Helper()
	fn, err := f.dev.ResolveFunction(name)
	require.NoError(t, err)
	return graph.KernelParams{Fn: fn, Grid: one, Block: one, Args: args}
}

func (f *fixture) readU32s(t *testing.T, p device.Ptr, n int) []uint32 {
	t.Helper()
	raw, err := f.dev.ReadBuffer(p, uint64(n)*4)
	require.NoError(t, err)
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

// pipeline builds iota -> vec_add(dst = iota + iota) over n elements and
// returns the graph with its output buffer.
func (f *fixture) pipeline(t *testing.T, n uint32) (*graph.Graph, device.Ptr) {
	t.Helper()
	src, err := f.dev.AllocBuffer(uint64(n)*4, false)
	require.NoError(t, err)
	dst, err := f.dev.AllocBuffer(uint64(n)*4, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	a, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(src), sim.EncodeU32Arg(n)))
	require.NoError(t, err)
	_, err = g.AddKernelNode(f.kernel(t, "vec_add_u32",
		sim.EncodePtrArg(dst), sim.EncodePtrArg(src), sim.EncodePtrArg(src), sim.EncodeU32Arg(n)), a)
	require.NoError(t, err)
	return g, dst
}

func TestInstantiateAndLaunch(t *testing.T) {
	f := newFixture(t)
	g, dst := f.pipeline(t, 16)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	got := f.readU32s(t, dst, 16)
	for i, v := range got {
		assert.Equal(t, uint32(2*i), v)
	}
	assert.Equal(t, uint64(1), exec.LaunchCount())
}

func TestLaunchIsolatedFromSourceMutation(t *testing.T) {
	f := newFixture(t)
	g, dst := f.pipeline(t, 8)

	exec, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	// Mutating the source graph after instantiation must not change what
	// the executable runs.
	for _, n := range g.Nodes() {
		if n.Kind() == graph.KindKernel {
			require.NoError(t, n.SetEnabled(false))
		}
	}

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	got := f.readU32s(t, dst, 8)
	assert.Equal(t, uint32(14), got[7])
}

func TestReplayMatchesFirstLaunch(t *testing.T) {
	f := newFixture(t)
	g, dst := f.pipeline(t, 32)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	first, err := f.dev.ReadBuffer(dst, 32*4)
	require.NoError(t, err)

	// Scramble the output, then replay. Replayed packets must reproduce the
	// first launch bit for bit.
	require.NoError(t, f.dev.WriteBuffer(dst, make([]byte, 32*4)))
	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	second, err := f.dev.ReadBuffer(dst, 32*4)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(2), exec.LaunchCount())
}

func TestParameterUpdateInvalidatesReplay(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)
	g := graph.New(f.dev)
	k, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	// Swap in new parameters writing only 4 elements to a scrubbed buffer.
	require.NoError(t, f.dev.WriteBuffer(buf, make([]byte, 64)))
	require.NoError(t, exec.SetKernelNodeParams(k,
		f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(4))))

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	got := f.readU32s(t, buf, 16)
	assert.Equal(t, uint32(3), got[3])
	assert.Equal(t, uint32(0), got[8], "elements past the new count stay untouched")
}

func TestSetNodeEnabledOnExecutable(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)
	g := graph.New(f.dev)
	k, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.SetNodeEnabled(k, false))
	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(0), f.readU32s(t, buf, 16)[5], "disabled kernel ran as a no-op")

	require.NoError(t, exec.SetNodeEnabled(k, true))
	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(5), f.readU32s(t, buf, 16)[5])
}

func TestHostNodeOrdering(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)
	g := graph.New(f.dev)

	var sawIota atomic.Bool
	a, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)
	h, err := g.AddHostNode(func(any) {
		raw, err := f.dev.ReadBuffer(buf, 64)
		if err == nil && binary.LittleEndian.Uint32(raw[60:]) == 15 {
			sawIota.Store(true)
		}
	}, nil, a)
	require.NoError(t, err)
	_, err = g.AddEmptyNode(h)
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Width: 2})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	require.NoError(t, exec.Synchronize(context.Background()))
	assert.True(t, sawIota.Load(), "host callback observed its dependency's writes")
}

func TestGraphOwnedAllocationAcrossLaunches(t *testing.T) {
	f := newFixture(t)

	out, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	alloc, err := g.AddMemAllocNode(64)
	require.NoError(t, err)
	scratch, _ := alloc.AllocatedPtr()

	fill, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(scratch), sim.EncodeU32Arg(16)), alloc)
	require.NoError(t, err)
	cp, err := g.AddMemcpyNode(graph.MemcpyParams{Dst: out, Src: scratch, Bytes: 64}, fill)
	require.NoError(t, err)
	_, err = g.AddMemFreeNode(scratch, cp)
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Launch(context.Background(), f.caller))
		require.NoError(t, f.caller.Synchronize())
		require.NoError(t, exec.Synchronize(context.Background()))
		assert.Equal(t, uint32(15), f.readU32s(t, out, 16)[15], "launch %d", i+1)
	}

	// The re-claimed address is stable across launches.
	ptr, _ := exec.nodeMap[alloc].AllocatedPtr()
	assert.Equal(t, scratch, ptr)
}

func TestInstantiateRejectsCycle(t *testing.T) {
	f := newFixture(t)
	g := graph.New(f.dev)
	a, _ := g.AddEmptyNode()
	b, _ := g.AddEmptyNode(a)
	require.NoError(t, g.AddEdge(b, a))

	_, err := Instantiate(context.Background(), g, Options{})
	assert.ErrorIs(t, err, graph.ErrCycle)
}

func TestGetClonedNode(t *testing.T) {
	f := newFixture(t)
	g := graph.New(f.dev)
	a, _ := g.AddEmptyNode()

	other := graph.New(f.dev)
	foreign, _ := other.AddEmptyNode()

	exec, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	cn, err := exec.GetClonedNode(a)
	require.NoError(t, err)
	assert.Same(t, a, cn.Original())

	_, err = exec.GetClonedNode(foreign)
	assert.ErrorIs(t, err, ErrUnknownNode)

	_, err = exec.GetClonedNode(nil)
	assert.ErrorIs(t, err, graph.ErrInvalidHandle)
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	g, _ := f.pipeline(t, 8)

	exec, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	require.NoError(t, exec.Destroy())

	assert.ErrorIs(t, exec.Destroy(), ErrNotInstantiated)
	assert.ErrorIs(t, exec.Launch(context.Background(), f.caller), ErrNotInstantiated)
	_, err = exec.GetClonedNode(nil)
	assert.ErrorIs(t, err, ErrNotInstantiated)
}

func TestSourceParamUpdateDoesNotReachExecutable(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	seed, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)
	scale, err := g.AddKernelNode(f.kernel(t, "scale_u32",
		sim.EncodePtrArg(buf), sim.EncodeU32Arg(2), sim.EncodeU32Arg(16)), seed)
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(14), f.readU32s(t, buf, 16)[7])

	// Update the factor on the source graph's node, not the executable. The
	// instantiated clone keeps the value it was built with.
	require.NoError(t, scale.SetKernelParams(f.kernel(t, "scale_u32",
		sim.EncodePtrArg(buf), sim.EncodeU32Arg(5), sim.EncodeU32Arg(16))))

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(14), f.readU32s(t, buf, 16)[7], "executable still runs the instantiated factor")

	// Re-instantiating picks the new factor up.
	exec2, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	defer func() { _ = exec2.Destroy() }()
	require.NoError(t, exec2.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(35), f.readU32s(t, buf, 16)[7])
}

func TestStridedCopyGathersRows(t *testing.T) {
	f := newFixture(t)

	src, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)
	dst, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	seed, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(src), sim.EncodeU32Arg(16)))
	require.NoError(t, err)
	// First two u32s of every 4-u32 source row, gathered tightly into dst.
	_, err = g.AddMemcpy3DNode(graph.Memcpy3DParams{
		Dst: dst, Src: src, Width: 8, Height: 4, SrcPitch: 16,
	}, seed)
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Capture: true})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	got := f.readU32s(t, dst, 16)
	assert.Equal(t, []uint32{0, 1, 4, 5, 8, 9, 12, 13}, got[:8])
	assert.Equal(t, uint32(0), got[8], "bytes past the gathered rows stay untouched")

	// Replayed packets reproduce the strided copy bit for bit.
	require.NoError(t, f.dev.WriteBuffer(dst, make([]byte, 64)))
	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, got, f.readU32s(t, dst, 16))
}

func TestKernelNodePackedArguments(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	seed, err := g.AddKernelNode(f.kernel(t, "iota_u32", sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)

	fn, err := f.dev.ResolveFunction("scale_u32")
	require.NoError(t, err)
	packed := make([]byte, 16)
	copy(packed, sim.EncodePtrArg(buf))
	binary.LittleEndian.PutUint32(packed[8:], 3)  // factor
	binary.LittleEndian.PutUint32(packed[12:], 16) // element count
	_, err = g.AddKernelNode(graph.KernelParams{Fn: fn, Grid: one, Block: one, Extra: packed}, seed)
	require.NoError(t, err)

	// The node owns an independent copy of the packed buffer.
	binary.LittleEndian.PutUint32(packed[8:], 99)

	exec, err := Instantiate(context.Background(), g, Options{})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())
	assert.Equal(t, uint32(21), f.readU32s(t, buf, 16)[7])
}

func TestLaunchOrdersAfterCallerWork(t *testing.T) {
	f := newFixture(t)

	buf, err := f.dev.AllocBuffer(64, false)
	require.NoError(t, err)

	g := graph.New(f.dev)
	// The graph doubles whatever iota the caller's queue wrote first.
	_, err = g.AddKernelNode(f.kernel(t, "vec_add_u32",
		sim.EncodePtrArg(buf), sim.EncodePtrArg(buf), sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)))
	require.NoError(t, err)

	exec, err := Instantiate(context.Background(), g, Options{Width: 3})
	require.NoError(t, err)
	defer func() { _ = exec.Destroy() }()

	fn, err := f.dev.ResolveFunction("iota_u32")
	require.NoError(t, err)
	pre, err := f.caller.KernelCommand(fn, one, one, 0, [][]byte{sim.EncodePtrArg(buf), sim.EncodeU32Arg(16)})
	require.NoError(t, err)
	require.NoError(t, pre.Enqueue())
	pre.Release()

	require.NoError(t, exec.Launch(context.Background(), f.caller))
	require.NoError(t, f.caller.Synchronize())

	got := f.readU32s(t, buf, 16)
	for i, v := range got {
		assert.Equal(t, uint32(2*i), v)
	}
}
