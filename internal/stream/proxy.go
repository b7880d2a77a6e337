package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/urlutil"
	"github.com/coopcam/coopcam/internal/version"
)

// Upstream connection tuning.
const (
	// stallTimeout treats upstream as dead when no frame completes in time.
	stallTimeout = 3 * time.Second
	// backoffStep and backoffCap shape the reconnect schedule:
	// 2s, 4s, 6s, 8s, 10s, 10s, ...
	backoffStep = 2 * time.Second
	backoffCap  = 10 * time.Second
	// readBufferSize is the upstream body read chunk size.
	readBufferSize = 32 * 1024
)

// Typed upstream errors; all are transient and recovered via reconnect.
var (
	ErrUpstreamBusy   = errors.New("upstream camera is busy")
	ErrUpstreamStatus = errors.New("upstream returned non-2xx status")
	ErrUpstreamStall  = errors.New("upstream stalled, no frame within deadline")
	ErrProxyClosed    = errors.New("proxy is shut down")
)

// EventType identifies an upstream lifecycle event.
type EventType string

// Upstream lifecycle events.
const (
	EventUpstreamUp   EventType = "upstream-up"
	EventUpstreamDown EventType = "upstream-down"
)

// Event reports an upstream connection transition.
type Event struct {
	Type     EventType `json:"type"`
	SourceID string    `json:"source_id"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// ProxySettings tunes a proxy independent of its source.
type ProxySettings struct {
	// MotionFPS caps the sampling tap rate. Zero disables sampling.
	MotionFPS int
	// PreBufferCapacity is the rolling window size in frames.
	PreBufferCapacity int
	// ViewerBacklog is the per-viewer unsent frame cap.
	ViewerBacklog int
	// MaxConsecutiveDrops closes a viewer that keeps falling behind.
	MaxConsecutiveDrops int
}

// ProxyStats is a weakly consistent proxy summary.
type ProxyStats struct {
	SourceID    string         `json:"source_id"`
	SourceURL   string         `json:"source_url"`
	IsConnected bool           `json:"is_connected"`
	ClientCount int            `json:"client_count"`
	FrameCount  uint64         `json:"frame_count"`
	LastFrame   time.Time      `json:"last_frame,omitzero"`
	Paused      bool           `json:"paused"`
	PauseUntil  time.Time      `json:"pause_until,omitzero"`
	ParserReset uint64         `json:"parser_resets"`
	PreBuffer   PreBufferStats `json:"pre_buffer"`
}

// Proxy mirrors a single upstream MJPEG source to any number of viewers.
// It owns the upstream connection, the parser state, the viewer set, the
// pre-buffer, and the motion sampling tap; all access goes through its API.
type Proxy struct {
	source   config.SourceConfig
	settings ProxySettings
	logger   *slog.Logger
	pool     *Pool
	client   *http.Client

	mu      sync.Mutex
	viewers map[uuid.UUID]*Viewer
	taps    []chan *Frame
	paused  bool
	until   time.Time

	prebuffer *PreBuffer
	samples   chan *Frame
	events    chan Event

	seq          atomic.Uint64
	frameCount   atomic.Uint64
	lastFrame    atomic.Int64 // unix nanos
	lastEOI      atomic.Int64
	lastSample   atomic.Int64
	parserResets atomic.Uint64
	connected    atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewProxy builds a proxy for one source. Call Connect to start the upstream
// loop.
func NewProxy(source config.SourceConfig, settings ProxySettings, pool *Pool, logger *slog.Logger) *Proxy {
	if settings.PreBufferCapacity < 1 {
		settings.PreBufferCapacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		source:   source,
		settings: settings,
		logger:   logger.With(slog.String("component", "proxy"), slog.String("source", source.ID)),
		pool:     pool,
		client: &http.Client{
			// No overall timeout: the body is a never-ending stream. Connect
			// problems surface through the dial timeout and stall watchdog.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Second,
				DisableCompression:    true,
			},
		},
		viewers:   make(map[uuid.UUID]*Viewer),
		prebuffer: NewPreBuffer(settings.PreBufferCapacity),
		samples:   make(chan *Frame, 1),
		events:    make(chan Event, 8),
		done:      make(chan struct{}),
	}
}

// Source returns the source configuration this proxy mirrors.
func (p *Proxy) Source() config.SourceConfig {
	return p.source
}

// Connect starts the upstream connection loop. The proxy reconnects with
// capped exponential backoff until Disconnect or ctx cancellation.
func (p *Proxy) Connect(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(runCtx)
}

// Disconnect stops the upstream loop, closes every viewer, and releases the
// pre-buffer.
func (p *Proxy) Disconnect() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		<-p.done

		p.mu.Lock()
		viewers := make([]*Viewer, 0, len(p.viewers))
		for _, v := range p.viewers {
			viewers = append(viewers, v)
		}
		taps := p.taps
		p.taps = nil
		p.mu.Unlock()

		for _, v := range viewers {
			v.Close()
		}
		for _, t := range taps {
			close(t)
			for f := range t {
				f.Release()
			}
		}
		p.drainSamples()
		close(p.samples)
		p.prebuffer.Close()
	})
}

func (p *Proxy) drainSamples() {
	for {
		select {
		case f := <-p.samples:
			f.Release()
		default:
			return
		}
	}
}

// run is the reconnect loop. The attempt counter resets to zero whenever an
// upstream connection is established.
func (p *Proxy) run(ctx context.Context) {
	defer close(p.done)

	attempt := 0
	for {
		connected, err := p.streamOnce(ctx)
		if ctx.Err() != nil {
			if p.connected.Swap(false) {
				p.emit(EventUpstreamDown, "shutdown")
			}
			return
		}
		if connected {
			attempt = 0
		}
		attempt++

		reason := "stream ended"
		if err != nil {
			reason = err.Error()
		}
		if p.connected.Swap(false) {
			p.emit(EventUpstreamDown, reason)
		}

		delay := backoffDelay(attempt)
		p.logger.Warn("upstream connection lost, reconnecting",
			slog.String("reason", reason),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the reconnect delay for the given attempt number
// (1-based): 2s x min(attempt, 5), capped at 10s.
func backoffDelay(attempt int) time.Duration {
	n := attempt
	if n > 5 {
		n = 5
	}
	d := time.Duration(n) * backoffStep
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// streamOnce performs one upstream connection attempt and reads it until it
// fails. Returns whether a usable stream was established.
func (p *Proxy) streamOnce(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.source.URL, nil)
	if err != nil {
		return false, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: %s", ErrUpstreamStatus, resp.Status)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		// DroidCam answers 200 text/html while another client holds the
		// camera. Treat as transient and keep retrying.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(body, []byte("DroidCam is Busy")) {
			return false, ErrUpstreamBusy
		}
		return false, fmt.Errorf("unexpected content type %q", ct)
	}

	p.connected.Store(true)
	p.emit(EventUpstreamUp, "")
	p.logger.Info("upstream connected", slog.String("content_type", ct))

	p.lastEOI.Store(time.Now().UnixNano())
	stalled := p.watchStall(reqCtx, cancel)

	parser := NewParser(2 * p.pool.SlotSize())
	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			before := parser.Resets()
			parser.Feed(buf[:n], p.handleFrame)
			if r := parser.Resets(); r != before {
				p.parserResets.Add(r - before)
				p.logger.Warn("parser scratch overflow, state reset",
					slog.Uint64("resets", r))
			}
		}
		if err != nil {
			if stalled.Load() {
				return true, ErrUpstreamStall
			}
			return true, err
		}
	}
}

// watchStall cancels the request when no frame completes within
// stallTimeout, so a wedged upstream socket is torn down and redialed.
func (p *Proxy) watchStall(ctx context.Context, cancel context.CancelFunc) *atomic.Bool {
	stalled := &atomic.Bool{}
	go func() {
		ticker := time.NewTicker(stallTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				last := time.Unix(0, p.lastEOI.Load())
				if time.Since(last) > stallTimeout {
					stalled.Store(true)
					cancel()
					return
				}
			}
		}
	}()
	return stalled
}

// handleFrame copies a completed JPEG into a pooled buffer and fans it out.
// raw aliases the parser scratch and must not escape this call.
func (p *Proxy) handleFrame(raw []byte) {
	now := time.Now()
	p.lastEOI.Store(now.UnixNano())

	buf := p.pool.Acquire(len(raw))
	copy(buf.Bytes(), raw)
	f := NewFrame(p.source.ID, p.seq.Add(1), now, buf, len(raw))

	p.frameCount.Add(1)
	p.lastFrame.Store(now.UnixNano())

	p.prebuffer.Push(f)
	p.dispatch(f, now)
	f.Release()
}

// dispatch fans a frame out to taps, viewers, and the sampling tap. Taps see
// every frame even while paused (a recording in flight keeps accumulating);
// broadcast and sampling are suppressed by pause.
func (p *Proxy) dispatch(f *Frame, now time.Time) {
	p.mu.Lock()
	paused := p.pauseActiveLocked(now)
	viewers := make([]*Viewer, 0, len(p.viewers))
	for _, v := range p.viewers {
		viewers = append(viewers, v)
	}
	taps := p.taps
	p.mu.Unlock()

	for _, t := range taps {
		f.Retain()
		select {
		case t <- f:
		default:
			f.Release()
		}
	}

	if paused {
		return
	}

	for _, v := range viewers {
		v.offer(f)
	}

	p.sample(f, now)
}

// sample forwards at most one frame per motion interval, skipping when the
// detector has not drained the previous sample.
func (p *Proxy) sample(f *Frame, now time.Time) {
	if p.settings.MotionFPS <= 0 {
		return
	}
	interval := time.Second / time.Duration(p.settings.MotionFPS)
	last := time.Unix(0, p.lastSample.Load())
	if now.Sub(last) < interval {
		return
	}
	f.Retain()
	select {
	case p.samples <- f:
		p.lastSample.Store(now.UnixNano())
	default:
		f.Release()
	}
}

// AddViewer registers a sink and starts its writer goroutine.
func (p *Proxy) AddViewer(sink FlushWriter) (*Viewer, error) {
	v := newViewer(p.source.ID, sink, p.settings.ViewerBacklog, p.settings.MaxConsecutiveDrops)
	v.onClose = func(closed *Viewer) {
		p.mu.Lock()
		delete(p.viewers, closed.ID)
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.viewers[v.ID] = v
	count := len(p.viewers)
	p.mu.Unlock()

	go v.run()
	p.logger.Info("viewer connected",
		slog.String("viewer", v.ID.String()),
		slog.Int("viewers", count),
	)
	return v, nil
}

// RemoveViewer closes and deregisters a viewer by id.
func (p *Proxy) RemoveViewer(id uuid.UUID) {
	p.mu.Lock()
	v := p.viewers[id]
	p.mu.Unlock()
	if v != nil {
		v.Close()
	}
}

// Viewers returns a stats summary for every connected viewer.
func (p *Proxy) Viewers() []ViewerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ViewerStats, 0, len(p.viewers))
	for _, v := range p.viewers {
		out = append(out, v.Stats())
	}
	return out
}

// Samples is the motion sampling tap: a subsequence of the source frames at
// most MotionFPS per second. The consumer releases each frame.
func (p *Proxy) Samples() <-chan *Frame {
	return p.samples
}

// Events reports upstream up/down transitions. The channel is bounded;
// events overflow rather than block the pipeline.
func (p *Proxy) Events() <-chan Event {
	return p.events
}

// Tap registers an additional frame consumer (the recording controller).
// Frames that cannot be buffered are dropped for that tap, never blocking
// the source. The consumer releases each received frame.
func (p *Proxy) Tap(buffer int) <-chan *Frame {
	if buffer < 1 {
		buffer = 16
	}
	t := make(chan *Frame, buffer)
	p.mu.Lock()
	p.taps = append(p.taps, t)
	p.mu.Unlock()
	return t
}

// PreBuffer exposes the rolling pre-motion window.
func (p *Proxy) PreBuffer() *PreBuffer {
	return p.prebuffer
}

// Pause suppresses broadcast and motion sampling for d while keeping the
// upstream connection alive. Repeat calls only ever push the deadline
// forward; a pause cannot be shortened, only cleared via Resume. Returns
// the effective pause deadline.
func (p *Proxy) Pause(d time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline := time.Now().Add(d)
	if !p.paused || deadline.After(p.until) {
		p.until = deadline
	}
	p.paused = true
	return p.until
}

// Resume clears the pause immediately.
func (p *Proxy) Resume() {
	p.mu.Lock()
	p.paused = false
	p.until = time.Time{}
	p.mu.Unlock()
}

// PauseState returns whether the proxy is paused and until when.
func (p *Proxy) PauseState() (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pauseActiveLocked(time.Now()) {
		return false, time.Time{}
	}
	return true, p.until
}

// pauseActiveLocked reports pause state, lazily clearing an expired pause.
func (p *Proxy) pauseActiveLocked(now time.Time) bool {
	if !p.paused {
		return false
	}
	if !p.until.IsZero() && !now.Before(p.until) {
		p.paused = false
		p.until = time.Time{}
		return false
	}
	return true
}

// emit publishes an upstream event without blocking.
func (p *Proxy) emit(t EventType, reason string) {
	ev := Event{Type: t, SourceID: p.source.ID, Reason: reason, At: time.Now()}
	select {
	case p.events <- ev:
	default:
	}
}

// Stats returns the proxy summary.
func (p *Proxy) Stats() ProxyStats {
	p.mu.Lock()
	clientCount := len(p.viewers)
	paused := p.pauseActiveLocked(time.Now())
	until := p.until
	p.mu.Unlock()

	s := ProxyStats{
		SourceID:    p.source.ID,
		SourceURL:   urlutil.Redact(p.source.URL),
		IsConnected: p.connected.Load(),
		ClientCount: clientCount,
		FrameCount:  p.frameCount.Load(),
		Paused:      paused,
		PauseUntil:  until,
		ParserReset: p.parserResets.Load(),
		PreBuffer:   p.prebuffer.Stats(),
	}
	if ns := p.lastFrame.Load(); ns > 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	return s
}
