package motion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/stream"
)

// Event is one detected motion occurrence. Immutable once emitted. The id
// is a ULID: lexically sortable by time with a random suffix.
type Event struct {
	ID                   string         `json:"id"`
	SourceID             string         `json:"sourceId"`
	Timestamp            time.Time      `json:"timestamp"`
	NormalizedDifference float64        `json:"normalizedDifference"`
	Threshold            float64        `json:"threshold"`
	IntensityPct         float64        `json:"intensityPct"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// DetectorStats is a weakly consistent per-source detector summary.
type DetectorStats struct {
	SourceID   string    `json:"source_id"`
	Frames     uint64    `json:"frames"`
	Compared   uint64    `json:"compared"`
	Dropped    uint64    `json:"dropped"`
	Detections uint64    `json:"detections"`
	LastMotion time.Time `json:"last_motion,omitzero"`
	Paused     bool      `json:"paused"`
}

// Detector is the per-source motion state machine. One goroutine (the
// engine's sample loop for that source) calls handle; Pause, Resume, and
// Stats may be called from anywhere.
type Detector struct {
	sourceID string
	cfg      config.MotionConfig
	pool     *Pool
	logger   *slog.Logger
	events   chan<- Event

	mask     ignoreMask
	temporal *temporalShadowDetector
	regions  *regionAnalyzer
	tracker  *blobTracker

	mu         sync.Mutex
	previous   *Pixels
	paused     bool
	lastSample time.Time
	lastMotion time.Time

	frames     uint64
	compared   uint64
	dropped    uint64
	detections uint64
}

func newDetector(sourceID string, cfg config.MotionConfig, pool *Pool, events chan<- Event, logger *slog.Logger) *Detector {
	bands := make([]Band, len(cfg.IgnoredYBands))
	for i, b := range cfg.IgnoredYBands {
		bands[i] = Band{Start: b.Start, End: b.End}
	}
	d := &Detector{
		sourceID: sourceID,
		cfg:      cfg,
		pool:     pool,
		logger:   logger.With(slog.String("component", "motion"), slog.String("source", sourceID)),
		events:   events,
		mask:     newIgnoreMask(cfg.Width, cfg.Height, bands),
	}
	if cfg.Shadow.Temporal {
		d.temporal = newTemporalShadowDetector()
	}
	if cfg.Regions.Enabled {
		d.regions = newRegionAnalyzer(cfg.Regions.GridSize, cfg.Regions.MinActiveRegions)
	}
	if cfg.DetectionMode == "color_first" {
		d.tracker = newBlobTracker(BlobTrackerConfig{
			MinBlobSize:      cfg.ColorFirst.MinBlobSize,
			MaxMatchDistance: cfg.ColorFirst.MaxMatchDistance,
			MinBlobMovement:  cfg.ColorFirst.MinBlobMovement,
			MinBlobLifetime:  cfg.ColorFirst.MinBlobLifetime,
		})
	}
	return d
}

// colorPipeline reports whether this detector needs RGB pixel buffers.
func (d *Detector) colorPipeline() bool {
	return d.cfg.DetectionMode != "traditional" || d.cfg.Color.Enabled
}

// handle runs the full per-sample algorithm for one frame. The caller's
// frame reference is consumed.
func (d *Detector) handle(f *stream.Frame) {
	defer f.Release()

	now := f.Timestamp

	d.mu.Lock()
	if d.paused {
		d.dropped++
		d.mu.Unlock()
		return
	}
	if interval := time.Second / time.Duration(d.cfg.FPS); now.Sub(d.lastSample) < interval {
		d.dropped++
		d.mu.Unlock()
		return
	}
	d.lastSample = now
	d.frames++
	d.mu.Unlock()

	task, err := d.pool.Submit(f, ProcessConfig{
		Width:           d.cfg.Width,
		Height:          d.cfg.Height,
		Color:           d.colorPipeline(),
		ShadowEnabled:   d.cfg.Shadow.Enabled,
		ShadowIntensity: d.cfg.Shadow.Intensity,
	})
	if err != nil {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		return
	}
	current, err := task.Wait()
	if err != nil {
		d.logger.Debug("frame processing failed", slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paused {
		// Paused mid-flight; do not seed previousPixels from this frame.
		return
	}

	previous := d.previous
	d.previous = current
	if previous == nil {
		return
	}
	d.compared++

	motion, cmp, meta := d.evaluate(current, previous, now)
	if !motion {
		return
	}
	if now.Sub(d.lastMotion) <= d.cfg.Cooldown {
		return
	}
	d.lastMotion = now
	d.detections++

	ev := Event{
		ID:                   ulid.Make().String(),
		SourceID:             d.sourceID,
		Timestamp:            now,
		NormalizedDifference: cmp.NormalizedDifference,
		Threshold:            d.cfg.Threshold,
		IntensityPct:         cmp.NormalizedDifference * 100,
		Metadata:             meta,
	}
	d.logger.Info("motion detected",
		slog.String("event", ev.ID),
		slog.Float64("intensity_pct", ev.IntensityPct),
	)

	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event channel full, motion event dropped", slog.String("event", ev.ID))
	}
}

// evaluate runs the comparison branch for the configured mode plus the
// temporal, regional, and color-validation filters.
func (d *Detector) evaluate(current, previous *Pixels, now time.Time) (bool, Comparison, map[string]any) {
	meta := map[string]any{"mode": d.cfg.DetectionMode}

	if d.cfg.DetectionMode == "color_first" {
		// No pixel comparison at all: the blob tracker is the decision.
		moved := d.tracker.detect(current)
		return moved, Comparison{}, meta
	}

	base, shadowThr := thresholdsAt(now, d.cfg.Shadow.TimeBasedThresholds)

	var cmp Comparison
	switch {
	case d.cfg.DetectionMode == "color_filter" && d.cfg.Shadow.Enabled:
		cmp = compareColorShadow(current, previous, d.mask, base, shadowThr)
	case d.cfg.Shadow.Enabled:
		cmp = compareGrayShadow(current, previous, d.mask, base, shadowThr)
	default:
		cmp = compareRaw(current, previous, d.mask)
	}

	if d.temporal != nil {
		d.temporal.push(current)
		if detected, confidence := d.temporal.analyze(); detected && confidence > 0.7 {
			cmp.NormalizedDifference *= 1 - confidence*0.5
			meta["temporalShadowConfidence"] = confidence
		}
	}

	motion := cmp.NormalizedDifference > d.cfg.Threshold

	if d.regions != nil {
		vote := d.regions.analyze(cmp, d.cfg.Width, d.cfg.Height, d.cfg.Threshold)
		motion = vote.Motion
		meta["regionConfidence"] = vote.Confidence
		meta["activeRegions"] = vote.Active
		meta["shadowRegions"] = vote.ShadowRegions
	}

	if motion && d.cfg.Color.Enabled {
		mask := chickenMask(current)
		blobs := findBlobs(mask, current.Width, current.Height, d.cfg.Color.MinBlobSize)
		if !validateBlobs(blobs, current.Width*current.Height, d.cfg.Color.MinBlobSize) {
			meta["colorRejected"] = true
			motion = false
		} else {
			meta["blobs"] = len(blobs)
		}
	}

	return motion, cmp, meta
}

// Pause stops frame handling until Resume.
func (d *Detector) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume restarts frame handling. previousPixels is cleared so the first
// comparison after a long gap cannot spuriously fire; the sub-detectors
// forget their history for the same reason.
func (d *Detector) Resume() {
	d.mu.Lock()
	d.paused = false
	d.previous = nil
	if d.temporal != nil {
		d.temporal.reset()
	}
	if d.regions != nil {
		d.regions.reset()
	}
	if d.tracker != nil {
		d.tracker.reset()
	}
	d.mu.Unlock()
}

// Stats returns the detector summary.
func (d *Detector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DetectorStats{
		SourceID:   d.sourceID,
		Frames:     d.frames,
		Compared:   d.compared,
		Dropped:    d.dropped,
		Detections: d.detections,
		LastMotion: d.lastMotion,
		Paused:     d.paused,
	}
}

// Engine owns one detector per source and the sample loops feeding them.
type Engine struct {
	cfg    config.MotionConfig
	pool   *Pool
	logger *slog.Logger
	events chan Event

	mu        sync.Mutex
	detectors map[string]*Detector
	wg        sync.WaitGroup
}

// NewEngine creates the engine and its shared worker pool.
func NewEngine(cfg config.MotionConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		pool:      NewPool(cfg.WorkerPool.PoolSize, cfg.WorkerPool.MaxQueueSize, cfg.WorkerPool.TaskTimeout, logger),
		logger:    logger,
		events:    make(chan Event, 64),
		detectors: make(map[string]*Detector),
	}
}

// Events is the typed motion event stream consumed by the SSE broadcaster,
// the recording controller, and the history store.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Attach starts a sample loop feeding a detector from the proxy's sampling
// tap. One detector per source; attaching twice is a no-op.
func (e *Engine) Attach(p *stream.Proxy) *Detector {
	id := p.Source().ID

	e.mu.Lock()
	if d, ok := e.detectors[id]; ok {
		e.mu.Unlock()
		return d
	}
	d := newDetector(id, e.cfg, e.pool, e.events, e.logger)
	e.detectors[id] = d
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for f := range p.Samples() {
			d.handle(f)
		}
	}()
	return d
}

// Detector returns the detector for a source id, if attached.
func (e *Engine) Detector(sourceID string) (*Detector, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.detectors[sourceID]
	return d, ok
}

// Stats returns per-detector summaries plus the worker pool counters.
func (e *Engine) Stats() (map[string]DetectorStats, PoolStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]DetectorStats, len(e.detectors))
	for id, d := range e.detectors {
		out[id] = d.Stats()
	}
	return out, e.pool.Stats()
}

// Close shuts the worker pool down, allowing in-flight tasks to finish up
// to the context deadline.
func (e *Engine) Close(ctx context.Context) error {
	return e.pool.Close(ctx)
}
