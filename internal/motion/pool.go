package motion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coopcam/coopcam/internal/stream"
)

// Worker pool defaults.
const (
	DefaultQueueSize   = 50
	DefaultTaskTimeout = 5 * time.Second
)

// Typed pool errors. Callers drop the frame on any of them; frame
// preprocessing is lossy by contract.
var (
	ErrQueueFull   = errors.New("worker queue is full")
	ErrTaskTimeout = errors.New("frame processing timed out")
	ErrPoolClosed  = errors.New("worker pool is closed")
)

// Task is one in-flight preprocessing job. Wait blocks for the result.
type Task struct {
	frame *stream.Frame
	cfg   ProcessConfig

	pool     *Pool
	workerID atomic.Int32 // -1 while queued
	done     chan struct{}
	finished atomic.Bool

	pixels *Pixels
	err    error
}

// Wait blocks until the task completes or the pool's task timeout elapses.
// A timed-out in-flight task gets its worker replaced; a timed-out queued
// task simply fails.
func (t *Task) Wait() (*Pixels, error) {
	select {
	case <-t.done:
		return t.pixels, t.err
	case <-time.After(t.pool.timeout):
	}

	if id := t.workerID.Load(); id >= 0 {
		t.pool.replaceWorker(int(id))
	}
	if t.finish(nil, ErrTaskTimeout) {
		t.pool.failed.Add(1)
	}
	return nil, ErrTaskTimeout
}

// finish records the result exactly once. The frame reference taken in
// Submit belongs to the worker that dequeues the task, never to finish: a
// timed-out task may still be queued, or mid-decode on a live worker.
func (t *Task) finish(px *Pixels, err error) bool {
	if t.finished.Swap(true) {
		return false
	}
	t.pixels = px
	t.err = err
	close(t.done)
	return true
}

// PoolStats is a weakly consistent snapshot of pool counters.
type PoolStats struct {
	Workers   int     `json:"workers"`
	QueueLen  int     `json:"queue_len"`
	QueueCap  int     `json:"queue_cap"`
	Submitted uint64  `json:"submitted"`
	Completed uint64  `json:"completed"`
	Failed    uint64  `json:"failed"`
	Dropped   uint64  `json:"dropped"`
	Respawned uint64  `json:"respawned"`
	AvgMillis float64 `json:"avg_ms"`
}

// Pool preprocesses frames for motion detection on a fixed set of workers.
// JPEG decode and resize are the expensive part of the pipeline; the pool
// keeps them off the stream I/O path and bounds how much decode work can
// queue up behind a slow CPU.
type Pool struct {
	size    int
	timeout time.Duration
	tasks   chan *Task
	logger  *slog.Logger

	mu     sync.Mutex
	gen    []uint64
	closed bool

	submitted  atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	respawned  atomic.Uint64
	totalNanos atomic.Int64

	wg sync.WaitGroup
}

// NewPool starts size workers (0 selects max(1, NumCPU-1)) over a bounded
// queue.
func NewPool(size, queueSize int, timeout time.Duration, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU() - 1
		if size < 1 {
			size = 1
		}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:    size,
		timeout: timeout,
		tasks:   make(chan *Task, queueSize),
		logger:  logger.With(slog.String("component", "motion-pool")),
		gen:     make([]uint64, size),
	}
	for id := 0; id < size; id++ {
		p.spawn(id, 0)
	}
	return p
}

// Submit enqueues a frame for preprocessing without blocking. The pool holds
// a frame reference until a worker has consumed the task, even when Wait
// gives up first. Returns ErrQueueFull when the queue is saturated; the
// caller drops the frame.
func (p *Pool) Submit(f *stream.Frame, cfg ProcessConfig) (*Task, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	t := &Task{frame: f, cfg: cfg, pool: p, done: make(chan struct{})}
	t.workerID.Store(-1)

	f.Retain()
	select {
	case p.tasks <- t:
		p.submitted.Add(1)
		return t, nil
	default:
		f.Release()
		p.dropped.Add(1)
		return nil, ErrQueueFull
	}
}

func (p *Pool) spawn(id int, gen uint64) {
	p.wg.Add(1)
	go p.worker(id, gen)
}

// replaceWorker bumps the generation for a worker id and starts a fresh
// goroutine under it. The stale worker notices the bump after its current
// task and exits; a worker wedged in a pathological decode is abandoned.
func (p *Pool) replaceWorker(id int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.gen[id]++
	gen := p.gen[id]
	p.mu.Unlock()

	p.respawned.Add(1)
	p.logger.Warn("replacing stuck worker", slog.Int("worker", id), slog.Uint64("generation", gen))
	p.spawn(id, gen)
}

func (p *Pool) currentGen(id int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen[id]
}

func (p *Pool) worker(id int, gen uint64) {
	defer p.wg.Done()
	for t := range p.tasks {
		if t.finished.Load() {
			// Timed out while still queued; drop the pool's reference unread.
			t.frame.Release()
			continue
		}
		t.workerID.Store(int32(id))
		start := time.Now()
		px, err := p.safeProcess(t)
		elapsed := time.Since(start)

		// The frame must stay referenced through the decode; only now is the
		// pool's reference safe to drop.
		t.frame.Release()

		if t.finish(px, err) {
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
				p.totalNanos.Add(int64(elapsed))
			}
		}

		if p.currentGen(id) != gen {
			// Replaced while this task overran its deadline.
			return
		}
	}
}

// safeProcess converts a decoder panic into a task error so one malformed
// JPEG cannot take a worker down.
func (p *Pool) safeProcess(t *Task) (px *Pixels, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame processing panicked: %v", r)
			p.logger.Error("worker recovered from panic",
				slog.String("source", t.frame.SourceID),
				slog.Any("panic", r),
			)
		}
	}()
	return processFrame(t.frame.Bytes(), t.cfg)
}

// Close stops accepting tasks and waits for workers to finish the queue, up
// to the context deadline. Abandoned workers are not waited for past it.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		Workers:   p.size,
		QueueLen:  len(p.tasks),
		QueueCap:  cap(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Respawned: p.respawned.Load(),
	}
	if n := p.completed.Load(); n > 0 {
		s.AvgMillis = float64(p.totalNanos.Load()) / float64(n) / 1e6
	}
	return s
}
