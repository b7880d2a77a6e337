package stream

import (
	"sync/atomic"
	"time"
)

// Frame is one complete JPEG (SOI through EOI) with its arrival metadata.
// The payload lives in a pooled buffer shared by every consumer; the buffer
// returns to the pool when the last reference is released.
type Frame struct {
	SourceID string
	// Seq increases monotonically per source starting at 1.
	Seq uint64
	// Timestamp carries both the wall clock and Go's monotonic reading.
	Timestamp time.Time

	buf  *Buffer
	size int
	refs atomic.Int32
}

// NewFrame wraps a pooled buffer holding size bytes of JPEG data. The caller
// holds the initial reference.
func NewFrame(sourceID string, seq uint64, ts time.Time, buf *Buffer, size int) *Frame {
	f := &Frame{
		SourceID:  sourceID,
		Seq:       seq,
		Timestamp: ts,
		buf:       buf,
		size:      size,
	}
	f.refs.Store(1)
	return f
}

// Bytes returns the JPEG payload. Valid only while a reference is held.
func (f *Frame) Bytes() []byte {
	return f.buf.Bytes()[:f.size]
}

// Size returns the payload length in bytes.
func (f *Frame) Size() int {
	return f.size
}

// Retain adds a reference for another consumer.
func (f *Frame) Retain() {
	f.refs.Add(1)
}

// Release drops one reference. The underlying buffer returns to the pool when
// the count reaches zero.
func (f *Frame) Release() {
	if f.refs.Add(-1) == 0 {
		f.buf.Release()
	}
}

// Refs returns the current reference count. Diagnostic only.
func (f *Frame) Refs() int32 {
	return f.refs.Load()
}
