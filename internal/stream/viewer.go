package stream

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coopcam/coopcam/pkg/mjpeg"
)

// Viewer backpressure defaults.
const (
	// DefaultViewerBacklog is how many frames may sit unsent per viewer.
	DefaultViewerBacklog = 2
	// DefaultMaxConsecutiveDrops closes a viewer that cannot keep up.
	DefaultMaxConsecutiveDrops = 30
)

// FlushWriter is the sink a viewer writes MJPEG parts to. HTTP handlers wrap
// the ResponseWriter; tests supply anything that satisfies it.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// Viewer is one downstream MJPEG consumer. Each viewer has its own writer
// goroutine so a stalled client never blocks the source or other viewers;
// frames beyond its backlog are dropped, and a viewer that keeps dropping is
// closed by the pipeline.
type Viewer struct {
	ID          uuid.UUID
	SourceID    string
	ConnectedAt time.Time

	sink    FlushWriter
	queue   chan *Frame
	maxDrop int

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Viewer)

	framesWritten atomic.Uint64
	dropped       atomic.Uint64
	consecutive   atomic.Int32
	lastSend      atomic.Int64 // unix nanos
}

// ViewerStats is a weakly consistent viewer summary.
type ViewerStats struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	FramesWritten uint64    `json:"frames_written"`
	Dropped       uint64    `json:"dropped"`
	LastSend      time.Time `json:"last_send,omitzero"`
}

func newViewer(sourceID string, sink FlushWriter, backlog, maxDrop int) *Viewer {
	if backlog <= 0 {
		backlog = DefaultViewerBacklog
	}
	if maxDrop <= 0 {
		maxDrop = DefaultMaxConsecutiveDrops
	}
	return &Viewer{
		ID:          uuid.New(),
		SourceID:    sourceID,
		ConnectedAt: time.Now(),
		sink:        sink,
		queue:       make(chan *Frame, backlog),
		maxDrop:     maxDrop,
		done:        make(chan struct{}),
	}
}

// run drains the queue and writes each frame as a multipart part.
// A write or flush error closes only this viewer.
func (v *Viewer) run() {
	defer v.drain()
	for {
		select {
		case <-v.done:
			return
		case f := <-v.queue:
			err := mjpeg.WritePart(v.sink, f.Bytes())
			if err == nil {
				err = v.sink.Flush()
			}
			f.Release()
			if err != nil {
				v.Close()
				return
			}
			v.framesWritten.Add(1)
			v.lastSend.Store(time.Now().UnixNano())
		}
	}
}

// offer enqueues a frame without blocking, retaining it on success. When the
// backlog is full the frame is dropped for this viewer; maxDrop consecutive
// drops close the viewer.
func (v *Viewer) offer(f *Frame) bool {
	if v.closed.Load() {
		return false
	}
	f.Retain()
	select {
	case v.queue <- f:
		if v.closed.Load() {
			// Close may have already drained the queue between the check
			// above and the send; do not strand the reference parked there.
			v.drain()
			return false
		}
		v.consecutive.Store(0)
		return true
	default:
		f.Release()
		v.dropped.Add(1)
		if int(v.consecutive.Add(1)) >= v.maxDrop {
			v.Close()
		}
		return false
	}
}

// Close marks the viewer closed and wakes its writer goroutine. Idempotent.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		close(v.done)
		if v.onClose != nil {
			v.onClose(v)
		}
	})
}

// Closed reports whether the viewer has been closed.
func (v *Viewer) Closed() bool {
	return v.closed.Load()
}

// Done is closed when the viewer shuts down.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// drain releases any frames still queued after close.
func (v *Viewer) drain() {
	for {
		select {
		case f := <-v.queue:
			f.Release()
		default:
			return
		}
	}
}

// Stats returns the viewer summary.
func (v *Viewer) Stats() ViewerStats {
	s := ViewerStats{
		ID:            v.ID.String(),
		SourceID:      v.SourceID,
		ConnectedAt:   v.ConnectedAt,
		FramesWritten: v.framesWritten.Load(),
		Dropped:       v.dropped.Load(),
	}
	if ns := v.lastSend.Load(); ns > 0 {
		s.LastSend = time.Unix(0, ns)
	}
	return s
}
