package stream

import (
	"sync"
	"sync/atomic"
)

// Pool default sizing.
const (
	// DefaultSlotSize fits one JPEG frame from a phone camera.
	DefaultSlotSize = 1 << 20
	// DefaultSlots is the number of buffers kept warm. Upstream delivery is
	// bursty; per-frame allocation thrashes the allocator on high-FPS sources.
	DefaultSlots = 20
)

// Buffer is a pooled byte buffer handle. Release returns it to the pool;
// double-release is a no-op. Buffers larger than the pool slot size are
// allocated fresh and never pooled back.
type Buffer struct {
	pool      *Pool
	data      []byte
	oversized bool
	released  atomic.Bool
}

// Bytes returns the underlying buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release returns the buffer to its pool. Safe to call more than once.
func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.pool.release(b)
}

// Pool is a bounded pool of reusable frame buffers. It grows on demand and
// never shrinks below its starting size automatically; Shrink drops idle
// buffers back down to the starting size.
type Pool struct {
	slotSize  int
	baseSlots int

	mu   sync.Mutex
	free [][]byte

	created   atomic.Int64
	reused    atomic.Int64
	expanded  atomic.Int64
	oversized atomic.Int64
	inUse     atomic.Int64
}

// PoolStats is a weakly consistent snapshot of pool counters.
type PoolStats struct {
	Created   int64 `json:"created"`
	Reused    int64 `json:"reused"`
	Expanded  int64 `json:"expanded"`
	Oversized int64 `json:"oversized"`
	InUse     int64 `json:"in_use"`
	Available int   `json:"available"`
	SlotSize  int   `json:"slot_size"`
}

// NewPool creates a buffer pool with the given slot size and starting slot
// count. Zero values select the defaults.
func NewPool(slotSize, slots int) *Pool {
	if slotSize <= 0 {
		slotSize = DefaultSlotSize
	}
	if slots <= 0 {
		slots = DefaultSlots
	}
	p := &Pool{
		slotSize:  slotSize,
		baseSlots: slots,
		free:      make([][]byte, 0, slots),
	}
	for i := 0; i < slots; i++ {
		p.free = append(p.free, make([]byte, slotSize))
		p.created.Add(1)
	}
	return p
}

// SlotSize returns the pooled buffer size in bytes.
func (p *Pool) SlotSize() int {
	return p.slotSize
}

// Acquire returns a buffer of at least n bytes. Requests above the slot size
// get a fresh allocation that will not be pooled back on release.
func (p *Pool) Acquire(n int) *Buffer {
	if n > p.slotSize {
		p.oversized.Add(1)
		p.inUse.Add(1)
		return &Buffer{pool: p, data: make([]byte, n), oversized: true}
	}

	p.mu.Lock()
	var data []byte
	if len(p.free) > 0 {
		data = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.reused.Add(1)
	}
	p.mu.Unlock()

	if data == nil {
		data = make([]byte, p.slotSize)
		p.created.Add(1)
		p.expanded.Add(1)
	}
	p.inUse.Add(1)
	return &Buffer{pool: p, data: data}
}

func (p *Pool) release(b *Buffer) {
	p.inUse.Add(-1)
	if b.oversized {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, b.data)
	p.mu.Unlock()
}

// Shrink drops idle buffers down to the starting pool size.
func (p *Pool) Shrink() {
	p.mu.Lock()
	if len(p.free) > p.baseSlots {
		p.free = p.free[:p.baseSlots:p.baseSlots]
	}
	p.mu.Unlock()
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	available := len(p.free)
	p.mu.Unlock()
	return PoolStats{
		Created:   p.created.Load(),
		Reused:    p.reused.Load(),
		Expanded:  p.expanded.Load(),
		Oversized: p.oversized.Load(),
		InUse:     p.inUse.Load(),
		Available: available,
		SlotSize:  p.slotSize,
	}
}
