package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/device/sim"
	"github.com/accelgraph/accelgraph/internal/registry"
)

func newTestDevice(t *testing.T) *sim.Device {
	t.Helper()
	t.Cleanup(registry.Reset)
	return sim.New()
}

// iotaParams builds launch parameters for the builtin iota_u32 kernel
// writing n elements at dst.
func iotaParams(t *testing.T, dev *sim.Device, dst device.Ptr, n uint32) KernelParams {
	t.Helper()
	fn, err := dev.ResolveFunction("iota_u32")
	require.NoError(t, err)
	return KernelParams{
		Fn:    fn,
		Grid:  device.Dim3{X: 1, Y: 1, Z: 1},
		Block: device.Dim3{X: 1, Y: 1, Z: 1},
		Args:  [][]byte{sim.EncodePtrArg(dst), sim.EncodeU32Arg(n)},
	}
}

func TestNew(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	require.NotNil(t, g)
	assert.Zero(t, g.NodeCount())
	assert.Zero(t, g.EdgeCount())
	assert.True(t, registry.Graphs.IsAlive(g))
}

func TestAddEmptyNode(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	a, err := g.AddEmptyNode()
	require.NoError(t, err)
	b, err := g.AddEmptyNode(a)
	require.NoError(t, err)

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, []*Node{a}, b.Dependencies())
	assert.Equal(t, []*Node{b}, a.Dependents())
	assert.True(t, registry.Nodes.IsAlive(a))
}

func TestAddEdge(t *testing.T) {
	t.Run("error cases", func(t *testing.T) {
		dev := newTestDevice(t)
		g := New(dev)
		other := New(dev)

		a, err := g.AddEmptyNode()
		require.NoError(t, err)
		b, err := g.AddEmptyNode()
		require.NoError(t, err)
		foreign, err := other.AddEmptyNode()
		require.NoError(t, err)

		assert.ErrorIs(t, g.AddEdge(a, a), ErrSelfEdge)
		assert.ErrorIs(t, g.AddEdge(a, foreign), ErrWrongGraph)
		assert.ErrorIs(t, g.AddEdge(nil, a), ErrWrongGraph)

		require.NoError(t, g.AddEdge(a, b))
		assert.ErrorIs(t, g.AddEdge(a, b), ErrDuplicateEdge)
	})

	t.Run("degrees stay consistent", func(t *testing.T) {
		dev := newTestDevice(t)
		g := New(dev)
		a, _ := g.AddEmptyNode()
		b, _ := g.AddEmptyNode()
		c, _ := g.AddEmptyNode()
		require.NoError(t, g.AddEdge(a, b))
		require.NoError(t, g.AddEdge(a, c))

		assert.Equal(t, 2, a.OutDegree())
		assert.Equal(t, 1, b.InDegree())

		require.NoError(t, g.RemoveEdge(a, c))
		assert.Equal(t, 1, a.OutDegree())
		assert.Zero(t, c.InDegree())
	})
}

func TestRootsAndLeaves(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	// Diamond: a -> b, a -> c, b -> d, c -> d.
	a, _ := g.AddEmptyNode()
	b, _ := g.AddEmptyNode(a)
	c, _ := g.AddEmptyNode(a)
	d, _ := g.AddEmptyNode(b, c)

	assert.Equal(t, []*Node{a}, g.GetRootNodes())
	assert.Equal(t, []*Node{d}, g.GetLeafNodes())
}

func TestRemoveNode(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	a, _ := g.AddEmptyNode()
	b, _ := g.AddEmptyNode(a)
	c, _ := g.AddEmptyNode(b)

	require.NoError(t, g.RemoveNode(b))
	assert.Equal(t, 2, g.NodeCount())
	assert.Zero(t, g.EdgeCount())
	assert.Empty(t, a.Dependents())
	assert.Empty(t, c.Dependencies())
	assert.False(t, registry.Nodes.IsAlive(b))

	assert.ErrorIs(t, g.RemoveNode(b), ErrWrongGraph)
}

func TestMemAllocAndFree(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	alloc, err := g.AddMemAllocNode(1024)
	require.NoError(t, err)
	ptr, ok := alloc.AllocatedPtr()
	require.True(t, ok)
	assert.NotEqual(t, device.NullPtr, ptr)
	assert.Equal(t, 1, g.MemAllocNodeCount())

	_, err = g.AddMemFreeNode(ptr, alloc)
	require.NoError(t, err)
	assert.Zero(t, g.MemAllocNodeCount())

	t.Run("double free rejected", func(t *testing.T) {
		_, err := g.AddMemFreeNode(ptr, alloc)
		assert.ErrorContains(t, err, "already has a free node")
	})

	t.Run("foreign pointer rejected", func(t *testing.T) {
		buf, err := dev.AllocBuffer(64, false)
		require.NoError(t, err)
		_, err = g.AddMemFreeNode(buf)
		assert.ErrorContains(t, err, "was not allocated by this graph")
	})
}

func TestAddKernelNodeValidation(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		_, err := g.AddKernelNode(iotaParams(t, dev, buf, 16))
		assert.NoError(t, err)
	})

	t.Run("oversized block rejected", func(t *testing.T) {
		p := iotaParams(t, dev, buf, 16)
		p.Block = device.Dim3{X: 4096, Y: 1, Z: 1}
		_, err := g.AddKernelNode(p)
		assert.Error(t, err)
	})

	t.Run("argument count mismatch rejected", func(t *testing.T) {
		p := iotaParams(t, dev, buf, 16)
		p.Args = p.Args[:1]
		_, err := g.AddKernelNode(p)
		assert.ErrorContains(t, err, "signature")
	})
}

func TestDestroy(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	a, _ := g.AddEmptyNode()
	_, err := g.AddMemAllocNode(256)
	require.NoError(t, err)

	require.NoError(t, g.Destroy())
	assert.True(t, g.Destroyed())
	assert.False(t, registry.Graphs.IsAlive(g))
	assert.False(t, registry.Nodes.IsAlive(a))
	assert.Zero(t, g.Pool().OutstandingCount())

	assert.ErrorIs(t, g.Destroy(), ErrDestroyed)
	_, err = g.AddEmptyNode()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestSetEnabled(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	k, err := g.AddKernelNode(iotaParams(t, dev, buf, 16))
	require.NoError(t, err)
	require.True(t, k.Enabled())

	require.NoError(t, k.SetEnabled(false))
	assert.False(t, k.Enabled())
	// Disabling twice is a no-op, not an error.
	require.NoError(t, k.SetEnabled(false))
	require.NoError(t, k.SetEnabled(true))
	assert.True(t, k.Enabled())

	h, err := g.AddHostNode(func(any) {}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, h.SetEnabled(false), ErrNotDisableable)
}
