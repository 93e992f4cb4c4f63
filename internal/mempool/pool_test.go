package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelgraph/accelgraph/internal/device"
	"github.com/accelgraph/accelgraph/internal/device/sim"
)

func newPool() *Pool {
	return New(sim.New().Allocator())
}

func TestAllocateAndFree(t *testing.T) {
	p := newPool()

	ptr, err := p.AllocateMemory(256, nil, device.NullPtr)
	require.NoError(t, err)
	assert.True(t, p.Active(ptr))
	assert.Equal(t, 1, p.OutstandingCount())

	require.NoError(t, p.FreeMemory(ptr, nil))
	assert.False(t, p.Active(ptr))
	assert.Zero(t, p.OutstandingCount())

	assert.Error(t, p.FreeMemory(ptr, nil))
}

func TestHintReclaimsAddress(t *testing.T) {
	p := newPool()

	ptr, err := p.AllocateMemory(256, nil, device.NullPtr)
	require.NoError(t, err)
	require.NoError(t, p.FreeMemory(ptr, nil))

	again, err := p.AllocateMemory(256, nil, ptr)
	require.NoError(t, err)
	assert.Equal(t, ptr, again)
}

func TestBusyTracking(t *testing.T) {
	p := newPool()
	ptr, err := p.AllocateMemory(64, nil, device.NullPtr)
	require.NoError(t, err)

	assert.False(t, p.IsBusy(ptr))
	p.Retain(ptr)
	p.Retain(ptr)
	assert.True(t, p.IsBusy(ptr))
	p.Idle(ptr)
	assert.True(t, p.IsBusy(ptr))
	p.Idle(ptr)
	assert.False(t, p.IsBusy(ptr))

	// Extra idles do not underflow.
	p.Idle(ptr)
	assert.False(t, p.IsBusy(ptr))
}

func TestReleaseAllReportsBusyLeaks(t *testing.T) {
	p := newPool()
	a, err := p.AllocateMemory(64, nil, device.NullPtr)
	require.NoError(t, err)
	b, err := p.AllocateMemory(64, nil, device.NullPtr)
	require.NoError(t, err)

	p.Retain(b)
	leaked := p.ReleaseAll()
	assert.Equal(t, []device.Ptr{b}, leaked)
	assert.False(t, p.Active(a))
	assert.True(t, p.Active(b))
	assert.Equal(t, 1, p.OutstandingCount())
}
