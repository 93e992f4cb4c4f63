package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelgraph/accelgraph/internal/device"
)

func TestMemcpyEffectiveKind(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	devBuf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)
	hostBuf, err := dev.AllocBuffer(64, true)
	require.NoError(t, err)

	t.Run("default kind inferred from residency", func(t *testing.T) {
		n, err := g.AddMemcpyNode(MemcpyParams{Dst: devBuf, Src: hostBuf, Bytes: 64, Kind: device.CopyDefault})
		require.NoError(t, err)
		p, ok := n.MemcpyParams()
		require.True(t, ok)
		kind, err := p.effectiveKind(dev)
		require.NoError(t, err)
		assert.Equal(t, device.CopyHostToDevice, kind)
	})

	t.Run("explicit kind contradicting residency rejected", func(t *testing.T) {
		_, err := g.AddMemcpyNode(MemcpyParams{Dst: devBuf, Src: hostBuf, Bytes: 64, Kind: device.CopyDeviceToHost})
		assert.ErrorContains(t, err, "contradicts memory residency")
	})

	t.Run("overrun rejected", func(t *testing.T) {
		_, err := g.AddMemcpyNode(MemcpyParams{Dst: devBuf, Src: hostBuf, Bytes: 128})
		assert.ErrorContains(t, err, "overruns allocation")
	})
}

func TestMemcpy3DValidation(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	src, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)
	dst, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	t.Run("zero width rejected", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: dst, Src: src})
		assert.ErrorContains(t, err, "zero width")
	})

	t.Run("pitch smaller than row rejected", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: dst, Src: src, Width: 16, Height: 2, DstPitch: 8})
		assert.ErrorContains(t, err, "pitch smaller than row")
	})

	t.Run("span overrun rejected", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: dst, Src: src, Width: 16, Height: 8, SrcPitch: 16, DstPitch: 16})
		assert.ErrorContains(t, err, "overruns allocation")
	})

	t.Run("huge width does not wrap past the bounds check", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: dst, Src: src, Width: math.MaxUint64})
		assert.ErrorContains(t, err, "overruns allocation")
	})

	t.Run("valid strided copy accepted", func(t *testing.T) {
		n, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: dst, Src: src, Width: 8, Height: 4, SrcPitch: 16})
		require.NoError(t, err)
		p, ok := n.Memcpy3DParams()
		require.True(t, ok)
		assert.Equal(t, uint64(16), p.SrcPitch)
		assert.NoError(t, n.SetEnabled(false))
	})
}

func TestMemcpy3DExtentRules(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	src, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)
	// 4 rows of 16 bytes, recorded as pitched extents.
	pitched, err := dev.AllocBuffer3D(16, 4, 1, false)
	require.NoError(t, err)

	t.Run("row wider than recorded rows rejected", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: pitched, Src: src, Width: 32, Height: 2, DstPitch: 32})
		assert.ErrorContains(t, err, "row width")
	})

	t.Run("more rows than recorded rejected", func(t *testing.T) {
		_, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: pitched, Src: src, Width: 8, Height: 8, DstPitch: 8})
		assert.ErrorContains(t, err, "rows exceed")
	})

	t.Run("matching shape accepted", func(t *testing.T) {
		n, err := g.AddMemcpy3DNode(Memcpy3DParams{Dst: pitched, Src: src, Width: 16, Height: 4, DstPitch: 16})
		require.NoError(t, err)

		bad := Memcpy3DParams{Dst: pitched, Src: src, Width: 16, Height: 4, DstPitch: 8}
		require.ErrorContains(t, n.SetMemcpy3DParams(bad), "pitch smaller than row")
		p, ok := n.Memcpy3DParams()
		require.True(t, ok)
		assert.Equal(t, uint64(16), p.DstPitch, "failed update left the node untouched")
	})
}

func TestKernelPackedArguments(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	base := iotaParams(t, dev, buf, 16)

	t.Run("explicit and packed forms are exclusive", func(t *testing.T) {
		p := base
		p.Extra = make([]byte, 12)
		_, err := g.AddKernelNode(p)
		assert.ErrorContains(t, err, "mutually exclusive")
	})

	t.Run("short packed buffer rejected", func(t *testing.T) {
		p := base
		p.Args = nil
		p.Extra = make([]byte, 8)
		_, err := g.AddKernelNode(p)
		assert.ErrorContains(t, err, "packed arguments")
	})

	t.Run("packed buffer accepted and deep-copied", func(t *testing.T) {
		p := base
		packed := make([]byte, 12)
		copy(packed, p.Args[0])
		copy(packed[8:], p.Args[1])
		p.Args = nil
		p.Extra = packed

		n, err := g.AddKernelNode(p)
		require.NoError(t, err)

		packed[8] = 0xFF
		got, ok := n.KernelParams()
		require.True(t, ok)
		assert.NotEqual(t, byte(0xFF), got.Extra[8], "node owns its own packed buffer")
	})
}

func TestRangeChecksDoNotWrap(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	t.Run("memcpy byte count", func(t *testing.T) {
		// A count this large wraps a naive offset+bytes sum on both ends.
		_, err := g.AddMemcpyNode(MemcpyParams{Dst: buf + 32, Src: buf + 48, Bytes: math.MaxUint64 - 31})
		assert.ErrorContains(t, err, "overruns allocation")
	})

	t.Run("symbol offset", func(t *testing.T) {
		_, err := dev.RegisterSymbol("tbl", 64)
		require.NoError(t, err)
		_, err = g.AddMemcpyToSymbolNode("tbl", math.MaxUint64-7, buf, 16, device.CopyDefault)
		assert.ErrorContains(t, err, "overruns symbol")
	})
}

func TestMemsetValidation(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(256, false)
	require.NoError(t, err)

	t.Run("bad element size rejected", func(t *testing.T) {
		_, err := g.AddMemsetNode(MemsetParams{Dst: buf, ElemSize: 3, Width: 4})
		assert.ErrorContains(t, err, "element size")
	})

	t.Run("pitch smaller than row rejected", func(t *testing.T) {
		_, err := g.AddMemsetNode(MemsetParams{Dst: buf, ElemSize: 4, Width: 8, Height: 2, Pitch: 16})
		assert.ErrorContains(t, err, "pitch")
	})

	t.Run("span overrun rejected", func(t *testing.T) {
		_, err := g.AddMemsetNode(MemsetParams{Dst: buf, ElemSize: 4, Width: 128})
		assert.ErrorContains(t, err, "overruns allocation")
	})
}

func TestMemsetUpdateRules(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(256, false)
	require.NoError(t, err)

	n, err := g.AddMemsetNode(MemsetParams{Dst: buf, Value: 1, ElemSize: 4, Width: 8, Height: 4, Pitch: 32})
	require.NoError(t, err)

	t.Run("free resize before instantiation", func(t *testing.T) {
		err := n.SetMemsetParams(MemsetParams{Dst: buf, Value: 1, ElemSize: 4, Width: 8, Height: 2, Pitch: 32})
		assert.NoError(t, err)
	})

	g.MarkInstantiated()

	t.Run("width shrink allowed after instantiation", func(t *testing.T) {
		err := n.SetMemsetParams(MemsetParams{Dst: buf, Value: 2, ElemSize: 4, Width: 4, Height: 2, Pitch: 32})
		assert.NoError(t, err)
	})

	t.Run("height change rejected after instantiation", func(t *testing.T) {
		err := n.SetMemsetParams(MemsetParams{Dst: buf, Value: 2, ElemSize: 4, Width: 4, Height: 3, Pitch: 32})
		assert.ErrorContains(t, err, "must match instantiated extents")
	})
}

func TestSetParamsKindMismatch(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	k, err := g.AddKernelNode(iotaParams(t, dev, buf, 16))
	require.NoError(t, err)
	m, err := g.AddMemsetNode(MemsetParams{Dst: buf, ElemSize: 4, Width: 4})
	require.NoError(t, err)

	assert.ErrorIs(t, k.SetParams(m), ErrTypeMismatch)
	assert.ErrorIs(t, k.SetParams(nil), ErrInvalidHandle)
	assert.ErrorIs(t, m.SetKernelParams(iotaParams(t, dev, buf, 4)), ErrTypeMismatch)
}

func TestFailedUpdateLeavesNodeUntouched(t *testing.T) {
	dev := newTestDevice(t)
	g := New(dev)
	buf, err := dev.AllocBuffer(64, false)
	require.NoError(t, err)

	k, err := g.AddKernelNode(iotaParams(t, dev, buf, 16))
	require.NoError(t, err)

	bad := iotaParams(t, dev, buf, 16)
	bad.Block = device.Dim3{X: 9999, Y: 1, Z: 1}
	require.Error(t, k.SetKernelParams(bad))

	p, ok := k.KernelParams()
	require.True(t, ok)
	assert.Equal(t, uint32(1), p.Block.X)
}
