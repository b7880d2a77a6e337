package stream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/pkg/mjpeg"
)

// bufferSink is an in-memory FlushWriter for viewer tests.
type bufferSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
	failAll bool
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, assert.AnError
	}
	return s.buf.Write(p)
}

func (s *bufferSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *bufferSink) contents() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestViewerWritesParts(t *testing.T) {
	pool := NewPool(1024, 4)
	sink := &bufferSink{}
	v := newViewer("cam1", sink, 4, 0)
	go v.run()
	defer v.Close()

	f := makeFrame(t, pool, 1, time.Now())
	require.True(t, v.offer(f))
	f.Release()

	waitFor(t, func() bool { return v.Stats().FramesWritten == 1 }, "frame never written")

	out := sink.contents()
	assert.Equal(t, len(testJPEG(1))+mjpeg.PartOverhead(), len(out))
	assert.Contains(t, string(out), "--"+mjpeg.Boundary)
	assert.Equal(t, int64(0), pool.Stats().InUse)
}

func TestViewerDropsWhenBacklogFull(t *testing.T) {
	pool := NewPool(1024, 8)
	// No running writer goroutine: the queue fills and stays full.
	v := newViewer("cam1", &bufferSink{}, 2, 100)
	defer v.Close()

	frames := make([]*Frame, 4)
	accepted := 0
	for i := range frames {
		frames[i] = makeFrame(t, pool, uint64(i+1), time.Now())
		if v.offer(frames[i]) {
			accepted++
		}
	}

	assert.Equal(t, 2, accepted)
	assert.Equal(t, uint64(2), v.Stats().Dropped)

	for _, f := range frames {
		f.Release()
	}
	v.Close()
	v.drain()
	assert.Equal(t, int64(0), pool.Stats().InUse)
}

func TestViewerClosesAfterConsecutiveDrops(t *testing.T) {
	pool := NewPool(1024, 4)
	v := newViewer("cam1", &bufferSink{}, 1, 3)

	var closedVia *Viewer
	v.onClose = func(c *Viewer) { closedVia = c }

	f := makeFrame(t, pool, 1, time.Now())
	require.True(t, v.offer(f))

	for i := 0; i < 3; i++ {
		assert.False(t, v.offer(f))
	}
	f.Release()

	assert.True(t, v.Closed())
	assert.Same(t, v, closedVia)

	// A closed viewer rejects everything without touching refcounts.
	f2 := makeFrame(t, pool, 2, time.Now())
	assert.False(t, v.offer(f2))
	assert.Equal(t, int32(1), f2.Refs())
	f2.Release()

	v.drain()
	assert.Equal(t, int64(0), pool.Stats().InUse)
}

func TestViewerSuccessfulSendResetsDropStreak(t *testing.T) {
	pool := NewPool(1024, 8)
	v := newViewer("cam1", &bufferSink{}, 1, 3)
	defer v.Close()

	f := makeFrame(t, pool, 1, time.Now())
	defer f.Release()

	// Fill the backlog, drop twice, drain, and repeat. The streak resets on
	// every accepted frame so the viewer never reaches maxDrop.
	for round := 0; round < 5; round++ {
		require.True(t, v.offer(f))
		assert.False(t, v.offer(f))
		assert.False(t, v.offer(f))
		queued := <-v.queue
		queued.Release()
	}
	assert.False(t, v.Closed())
	assert.Equal(t, uint64(10), v.Stats().Dropped)
}

func TestViewerCloseRacingOfferReleasesFrame(t *testing.T) {
	pool := NewPool(1024, 4)
	f := makeFrame(t, pool, 1, time.Now())

	// Interleave offer with close-then-drain (the writer goroutine's exit
	// path). Whatever the ordering, no reference may be stranded in the
	// queue of a closed viewer.
	for i := 0; i < 500; i++ {
		v := newViewer("cam1", &bufferSink{}, 2, 100)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Close()
			v.drain()
		}()
		v.offer(f)
		wg.Wait()
	}

	f.Release()
	assert.Equal(t, int64(0), pool.Stats().InUse)
}

func TestViewerWriteErrorClosesViewer(t *testing.T) {
	pool := NewPool(1024, 4)
	sink := &bufferSink{failAll: true}
	v := newViewer("cam1", sink, 2, 0)
	go v.run()

	f := makeFrame(t, pool, 1, time.Now())
	v.offer(f)
	f.Release()

	waitFor(t, v.Closed, "write error did not close viewer")
	<-v.Done()
	assert.Equal(t, int64(0), pool.Stats().InUse)
}
