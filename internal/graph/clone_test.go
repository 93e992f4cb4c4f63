package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClone(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	a, err := g.AddKernelNode(iotaParams(t, dev, buf, 16))
	require.NoError(t, err)
	b, err := g.AddMemsetNode(MemsetParams{Dst: buf, Value: 7, ElemSize: 4, Width: 16}, a)
	require.NoError(t, err)

	clone, mapping, err := g.CloneWithMap()
	require.NoError(t, err)
	defer func() { _ = clone.Destroy() }()

	t.Run("structure is preserved", func(t *testing.T) {
		assert.Equal(t, g.NodeCount(), clone.NodeCount())
		assert.Equal(t, g.EdgeCount(), clone.EdgeCount())
		assert.Same(t, g, clone.Original())

		ca, cb := mapping[a], mapping[b]
		require.NotNil(t, ca)
		require.NotNil(t, cb)
		assert.Equal(t, []*Node{ca}, cb.Dependencies())
		assert.Same(t, a, ca.Original())
	})

	t.Run("clone shares the original's pool", func(t *testing.T) {
		assert.Same(t, g.Pool(), clone.Pool())
	})

	t.Run("parameters are independent", func(t *testing.T) {
		cb := mapping[b]
		require.NoError(t, cb.SetMemsetParams(MemsetParams{Dst: buf, Value: 9, ElemSize: 4, Width: 8}))

		orig, ok := b.MemsetParams()
		require.True(t, ok)
		assert.Equal(t, uint32(7), orig.Value)
		assert.Equal(t, uint64(16), orig.Width)
	})

	t.Run("kernel args are deep copied", func(t *testing.T) {
		ca := mapping[a]
		cp, ok := ca.KernelParams()
		require.True(t, ok)
		cp.Args[1][0] = 0xFF

		op, ok := a.KernelParams()
		require.True(t, ok)
		assert.NotEqual(t, cp.Args[1][0], op.Args[1][0])
	})
}

func TestCloneRemapsFreeNodes(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	alloc, err := g.AddMemAllocNode(512)
	require.NoError(t, err)
	ptr, _ := alloc.AllocatedPtr()
	free, err := g.AddMemFreeNode(ptr, alloc)
	require.NoError(t, err)

	clone, mapping, err := g.CloneWithMap()
	require.NoError(t, err)
	defer func() { _ = clone.Destroy() }()

	cFree := mapping[free]
	require.NotNil(t, cFree)
	assert.Same(t, mapping[alloc], cFree.memFree.allocNode)

	cPtr, ok := mapping[alloc].AllocatedPtr()
	require.True(t, ok)
	assert.Equal(t, ptr, cPtr)
}

func TestAddChildGraphNode(t *testing.T) {
	dev := newTestDevice(t)
	child := New(dev)
	a, _ := child.AddEmptyNode()
	_, err := child.AddEmptyNode(a)
	require.NoError(t, err)

	parent := New(dev)
	n, err := parent.AddChildGraphNode(child)
	require.NoError(t, err)
	require.NotNil(t, n.ChildGraph())

	// The embedded graph is a clone; mutating the original afterwards does
	// not grow it.
	_, err = child.AddEmptyNode()
	require.NoError(t, err)
	assert.Equal(t, 2, n.ChildGraph().NodeCount())
	assert.Equal(t, 3, child.NodeCount())

	t.Run("destroyed child rejected", func(t *testing.T) {
		dead := New(dev)
		require.NoError(t, dead.Destroy())
		_, err := parent.AddChildGraphNode(dead)
		assert.ErrorIs(t, err, ErrDestroyed)
	})
}

func TestCloneAfterOriginalMutation(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)

	a, _ := g.AddEmptyNode()
	clone, err := g.Clone()
	require.NoError(t, err)
	defer func() { _ = clone.Destroy() }()

	_, err = g.AddEmptyNode(a)
	require.NoError(t, err)
	assert.Equal(t, 1, clone.NodeCount())
}
