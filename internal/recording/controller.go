package recording

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/motion"
	"github.com/coopcam/coopcam/internal/stream"
	"github.com/coopcam/coopcam/pkg/bytesize"
)

// State is a recording's lifecycle phase.
type State string

// Recording lifecycle states.
const (
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateEncoding   State = "encoding"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// finalizeGrace is how long a recording may sit past its end time with no
// frames arriving before the sweeper finalizes it anyway.
const finalizeGrace = 2 * time.Second

// Recording is one motion-triggered clip being assembled.
type Recording struct {
	ID        string
	SourceID  string
	EventID   string // triggering motion event
	Start     time.Time
	End       time.Time // extended by motion while active
	State     State
	Intensity float64 // of the triggering motion event

	frames []*stream.Frame
}

// Summary is the immutable description of a finished recording.
type Summary struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	EventID    string    `json:"eventId,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	FrameCount int       `json:"frameCount"`
	OutputPath string    `json:"outputPath,omitempty"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
	State      State     `json:"state"`
	Motion     struct {
		Intensity float64 `json:"intensity"`
	} `json:"motion"`
}

// ControllerStats is a weakly consistent controller summary.
type ControllerStats struct {
	Active    int    `json:"active"`
	Encoding  int    `json:"encoding"`
	Started   uint64 `json:"started"`
	Extended  uint64 `json:"extended"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
}

// Controller owns the active-recording slot per source. Motion starts or
// extends a recording; the frame tap feeds it; finalization hands the frame
// refs to the encoder. Encoding back-pressures through a semaphore, never
// capture: a saturated encoder only delays when clips hit disk.
type Controller struct {
	cfg    config.RecordingConfig
	enc    Encoder
	logger *slog.Logger

	mu            sync.Mutex
	active        map[string]*Recording
	cooldownUntil map[string]time.Time
	prebuffers    map[string]*stream.PreBuffer
	encoding      int

	started   uint64
	extended  uint64
	completed uint64
	failed    uint64
	skipped   uint64

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// onFinished, when set, receives the summary of every finished clip.
	onFinished func(Summary)
}

// NewController creates the controller. Encoding concurrency is capped by
// cfg.MaxConcurrent.
func NewController(cfg config.RecordingConfig, enc Encoder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:           cfg,
		enc:           enc,
		logger:        logger.With(slog.String("component", "recording")),
		active:        make(map[string]*Recording),
		cooldownUntil: make(map[string]time.Time),
		prebuffers:    make(map[string]*stream.PreBuffer),
		sem:           make(chan struct{}, maxConcurrent),
		ctx:           ctx,
		cancel:        cancel,
	}
	c.wg.Add(1)
	go c.sweepStale()
	return c
}

// OnFinished registers a callback invoked with every finished clip summary.
// Must be called before the first motion event.
func (c *Controller) OnFinished(fn func(Summary)) {
	c.onFinished = fn
}

// Attach subscribes the controller to a proxy's frame tap and registers its
// pre-buffer for snapshot-on-motion.
func (c *Controller) Attach(p *stream.Proxy) {
	sourceID := p.Source().ID

	c.mu.Lock()
	c.prebuffers[sourceID] = p.PreBuffer()
	c.mu.Unlock()

	tap := p.Tap(32)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for f := range tap {
			c.handleFrame(sourceID, f)
		}
	}()
}

// HandleMotion starts a new recording or extends the active one.
func (c *Controller) HandleMotion(ev motion.Event) {
	now := ev.Timestamp

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(c.cooldownUntil[ev.SourceID]) {
		c.skipped++
		return
	}

	if rec, ok := c.active[ev.SourceID]; ok {
		rec.End = now.Add(c.cfg.PostMotion)
		c.extended++
		return
	}

	rec := &Recording{
		ID:        ulid.Make().String(),
		SourceID:  ev.SourceID,
		EventID:   ev.ID,
		Start:     now.Add(-c.cfg.PreBuffer),
		End:       now.Add(c.cfg.PostMotion),
		State:     StateActive,
		Intensity: ev.IntensityPct,
	}
	if pb := c.prebuffers[ev.SourceID]; pb != nil {
		rec.frames = pb.SnapshotSince(rec.Start)
	}
	c.active[ev.SourceID] = rec
	c.started++

	c.logger.Info("recording started",
		slog.String("recording", rec.ID),
		slog.String("source", rec.SourceID),
		slog.Int("prebuffered_frames", len(rec.frames)),
	)
}

// handleFrame appends a live frame to the source's active recording, or
// finalizes it once a frame lands past the end time. The tap's frame
// reference transfers to the recording on append.
func (c *Controller) handleFrame(sourceID string, f *stream.Frame) {
	c.mu.Lock()
	rec, ok := c.active[sourceID]
	if !ok {
		c.mu.Unlock()
		f.Release()
		return
	}
	if f.Timestamp.After(rec.End) {
		c.detachLocked(rec, f.Timestamp)
		c.mu.Unlock()
		f.Release()
		c.encode(rec)
		return
	}
	rec.frames = append(rec.frames, f)
	c.mu.Unlock()
}

// sweepStale finalizes recordings whose end passed but whose source stopped
// delivering frames (camera drop mid-recording).
func (c *Controller) sweepStale() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			var stale []*Recording
			c.mu.Lock()
			for _, rec := range c.active {
				if now.After(rec.End.Add(finalizeGrace)) {
					c.detachLocked(rec, now)
					stale = append(stale, rec)
				}
			}
			c.mu.Unlock()
			for _, rec := range stale {
				c.encode(rec)
			}
		}
	}
}

// detachLocked moves a recording out of the active slot and starts the
// source's cooldown.
func (c *Controller) detachLocked(rec *Recording, now time.Time) {
	rec.State = StateFinalizing
	delete(c.active, rec.SourceID)
	c.cooldownUntil[rec.SourceID] = now.Add(c.cfg.Cooldown)
}

// encode hands a finalized recording to the encoder on its own goroutine,
// bounded by the concurrency semaphore.
func (c *Controller) encode(rec *Recording) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case c.sem <- struct{}{}:
		case <-c.ctx.Done():
			c.release(rec, StateFailed)
			return
		}
		defer func() { <-c.sem }()

		c.mu.Lock()
		rec.State = StateEncoding
		c.encoding++
		c.mu.Unlock()

		outputPath := c.outputPath(rec)
		err := c.enc.Encode(c.ctx, rec.frames, outputPath, c.cfg.FPS, c.cfg.VideoQuality)

		c.mu.Lock()
		c.encoding--
		c.mu.Unlock()

		if err != nil {
			c.logger.Error("encoding failed",
				slog.String("recording", rec.ID),
				slog.String("error", err.Error()),
			)
			c.release(rec, StateFailed)
			return
		}

		summary := c.release(rec, StateDone)
		summary.OutputPath = outputPath
		if info, serr := os.Stat(outputPath); serr == nil {
			summary.SizeBytes = info.Size()
		}
		c.logger.Info("clip encoded",
			slog.String("recording", rec.ID),
			slog.Int("frames", summary.FrameCount),
			slog.String("size", bytesize.Size(summary.SizeBytes).String()),
		)
		if werr := writeSidecar(outputPath, summary); werr != nil {
			c.logger.Warn("writing sidecar failed", slog.String("error", werr.Error()))
		}
		if c.onFinished != nil {
			c.onFinished(summary)
		}
	}()
}

// release frees every frame reference and tallies the outcome.
func (c *Controller) release(rec *Recording, final State) Summary {
	summary := Summary{
		ID:         rec.ID,
		SourceID:   rec.SourceID,
		EventID:    rec.EventID,
		StartTime:  rec.Start,
		EndTime:    rec.End,
		FrameCount: len(rec.frames),
		State:      final,
	}
	summary.Motion.Intensity = rec.Intensity

	for _, f := range rec.frames {
		f.Release()
	}
	rec.frames = nil
	rec.State = final

	c.mu.Lock()
	if final == StateDone {
		c.completed++
	} else {
		c.failed++
	}
	c.mu.Unlock()
	return summary
}

// outputPath builds <outputDir>/<YYYY-MM-DD>/motion_<ts>_<hex>.mp4 using
// filesystem-safe timestamp separators.
func (c *Controller) outputPath(rec *Recording) string {
	day := rec.Start.Format("2006-01-02")
	ts := strings.ReplaceAll(rec.Start.Format("2006-01-02T15:04:05"), ":", "-")
	return filepath.Join(c.cfg.OutputDir, day, fmt.Sprintf("motion_%s_%s.mp4", ts, randHex(4)))
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writeSidecar writes the clip metadata next to the MP4.
func writeSidecar(outputPath string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	sidecar := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".json"
	return os.WriteFile(sidecar, data, 0o644)
}

// ActiveRecording returns a copy of the source's active recording, if any.
func (c *Controller) ActiveRecording(sourceID string) (Recording, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[sourceID]
	if !ok {
		return Recording{}, false
	}
	cp := *rec
	cp.frames = nil
	return cp, true
}

// Stats returns current controller counters.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerStats{
		Active:    len(c.active),
		Encoding:  c.encoding,
		Started:   c.started,
		Extended:  c.extended,
		Completed: c.completed,
		Failed:    c.failed,
		Skipped:   c.skipped,
	}
}

// Close stops the sweeper, cancels in-flight encodes, and waits for the
// controller's goroutines up to the context deadline.
func (c *Controller) Close(ctx context.Context) error {
	c.cancel()

	// Release anything still active; a half-captured clip is not worth
	// encoding during shutdown.
	c.mu.Lock()
	actives := make([]*Recording, 0, len(c.active))
	for id, rec := range c.active {
		delete(c.active, id)
		actives = append(actives, rec)
	}
	c.mu.Unlock()
	for _, rec := range actives {
		c.release(rec, StateFailed)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
