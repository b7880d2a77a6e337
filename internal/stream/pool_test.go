package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(1024, 2)

	b := p.Acquire(100)
	require.NotNil(t, b)
	assert.Len(t, b.Bytes(), 1024)
	assert.Equal(t, int64(1), p.Stats().InUse)

	b.Release()
	assert.Equal(t, int64(0), p.Stats().InUse)
	assert.Equal(t, 2, p.Stats().Available)
}

func TestPoolReusesBuffers(t *testing.T) {
	p := NewPool(1024, 1)

	b := p.Acquire(10)
	b.Release()
	b = p.Acquire(10)
	b.Release()

	s := p.Stats()
	assert.Equal(t, int64(2), s.Reused)
	assert.Equal(t, int64(1), s.Created)
	assert.Equal(t, int64(0), s.Expanded)
}

func TestPoolExpandsUnderLoad(t *testing.T) {
	p := NewPool(1024, 2)

	bufs := make([]*Buffer, 5)
	for i := range bufs {
		bufs[i] = p.Acquire(512)
	}
	s := p.Stats()
	assert.Equal(t, int64(5), s.InUse)
	assert.Equal(t, int64(3), s.Expanded)

	for _, b := range bufs {
		b.Release()
	}
	assert.Equal(t, 5, p.Stats().Available)

	p.Shrink()
	assert.Equal(t, 2, p.Stats().Available)
}

func TestPoolOversizedNotPooled(t *testing.T) {
	p := NewPool(1024, 1)

	b := p.Acquire(4096)
	assert.Len(t, b.Bytes(), 4096)
	assert.Equal(t, int64(1), p.Stats().Oversized)

	b.Release()
	// Oversized allocations never return to the free list.
	assert.Equal(t, 1, p.Stats().Available)
	assert.Equal(t, int64(0), p.Stats().InUse)
}

func TestBufferDoubleReleaseIsNoop(t *testing.T) {
	p := NewPool(1024, 1)

	b := p.Acquire(10)
	b.Release()
	b.Release()

	assert.Equal(t, int64(0), p.Stats().InUse)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestPoolShrinkReturnsToBaseline(t *testing.T) {
	p := NewPool(1024, 2)

	// Demand beyond the starting size grows the free list once released.
	bufs := make([]*Buffer, 6)
	for i := range bufs {
		bufs[i] = p.Acquire(512)
	}
	for _, b := range bufs {
		b.Release()
	}
	s := p.Stats()
	assert.Equal(t, 6, s.Available)
	assert.Equal(t, int64(4), s.Expanded)

	p.Shrink()
	assert.Equal(t, 2, p.Stats().Available)

	// A shrunk pool keeps serving; fresh demand allocates again.
	b := p.Acquire(512)
	assert.Len(t, b.Bytes(), 1024)
	b.Release()
	assert.Equal(t, int64(0), p.Stats().InUse)
}

func TestPoolShrinkBelowBaselineIsNoop(t *testing.T) {
	p := NewPool(1024, 4)

	b := p.Acquire(512)
	p.Shrink()
	assert.Equal(t, 3, p.Stats().Available)
	b.Release()
	assert.Equal(t, 4, p.Stats().Available)
}

func TestPoolDefaults(t *testing.T) {
	p := NewPool(0, 0)
	assert.Equal(t, DefaultSlotSize, p.SlotSize())
	assert.Equal(t, DefaultSlots, p.Stats().Available)
}
