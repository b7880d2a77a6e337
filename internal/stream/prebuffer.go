package stream

import (
	"sync"
	"time"
)

// PreBuffer is a fixed-capacity rolling window of recent frames. It holds one
// reference per stored frame and releases it on eviction, which makes it the
// primary lifetime extender of frames beyond the live broadcast.
type PreBuffer struct {
	mu       sync.Mutex
	frames   []*Frame
	head     int // index of the oldest frame
	count    int
	capacity int
	wrapped  bool
	memory   int64
}

// PreBufferStats describes the current window.
type PreBufferStats struct {
	Count    int           `json:"count"`
	Capacity int           `json:"capacity"`
	Wrapped  bool          `json:"wrapped"`
	Oldest   time.Time     `json:"oldest,omitzero"`
	Newest   time.Time     `json:"newest,omitzero"`
	Span     time.Duration `json:"span"`
	Memory   int64         `json:"memory_bytes"`
}

// NewPreBuffer creates a pre-buffer holding up to capacity frames.
func NewPreBuffer(capacity int) *PreBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &PreBuffer{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
}

// Push appends a frame, retaining a reference. When full it evicts and
// releases exactly one frame, the oldest.
func (b *PreBuffer) Push(f *Frame) {
	f.Retain()

	b.mu.Lock()
	var evicted *Frame
	if b.count == b.capacity {
		evicted = b.frames[b.head]
		b.frames[b.head] = f
		b.head = (b.head + 1) % b.capacity
		b.wrapped = true
		b.memory += int64(f.Size()) - int64(evicted.Size())
	} else {
		b.frames[(b.head+b.count)%b.capacity] = f
		b.count++
		b.memory += int64(f.Size())
	}
	b.mu.Unlock()

	if evicted != nil {
		evicted.Release()
	}
}

// SnapshotSince returns the frames with timestamp >= t in chronological
// order. Each returned frame is retained; the caller releases them.
func (b *PreBuffer) SnapshotSince(t time.Time) []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Frame
	for i := 0; i < b.count; i++ {
		f := b.frames[(b.head+i)%b.capacity]
		if !f.Timestamp.Before(t) {
			f.Retain()
			out = append(out, f)
		}
	}
	return out
}

// Stats returns the current window shape.
func (b *PreBuffer) Stats() PreBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := PreBufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Wrapped:  b.wrapped,
		Memory:   b.memory,
	}
	if b.count > 0 {
		s.Oldest = b.frames[b.head].Timestamp
		s.Newest = b.frames[(b.head+b.count-1)%b.capacity].Timestamp
		s.Span = s.Newest.Sub(s.Oldest)
	}
	return s
}

// Close releases every stored frame and empties the buffer.
func (b *PreBuffer) Close() {
	b.mu.Lock()
	frames := make([]*Frame, 0, b.count)
	for i := 0; i < b.count; i++ {
		frames = append(frames, b.frames[(b.head+i)%b.capacity])
	}
	b.count = 0
	b.head = 0
	b.memory = 0
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.mu.Unlock()

	for _, f := range frames {
		f.Release()
	}
}
