package recording

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/motion"
	"github.com/coopcam/coopcam/internal/stream"
)

// fakeEncoder records what it was asked to encode and writes an empty file.
type fakeEncoder struct {
	mu    sync.Mutex
	calls []fakeEncode
	fail  bool
}

type fakeEncode struct {
	frameCount int
	outputPath string
	fps        int
	quality    string
	// refsAtEncode proves the invariant: every frame still referenced while
	// the encoder consumes it.
	refsAtEncode []int32
}

func (e *fakeEncoder) Encode(ctx context.Context, frames []*stream.Frame, outputPath string, fps int, quality string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return assert.AnError
	}
	call := fakeEncode{frameCount: len(frames), outputPath: outputPath, fps: fps, quality: quality}
	for _, f := range frames {
		call.refsAtEncode = append(call.refsAtEncode, f.Refs())
	}
	e.calls = append(e.calls, call)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0o644)
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testRecordingConfig(t *testing.T) config.RecordingConfig {
	return config.RecordingConfig{
		Enabled:       true,
		PreBuffer:     3 * time.Second,
		PostMotion:    5 * time.Second,
		Cooldown:      30 * time.Second,
		OutputDir:     t.TempDir(),
		FPS:           10,
		VideoQuality:  "medium",
		MaxConcurrent: 2,
	}
}

type controllerFixture struct {
	c    *Controller
	enc  *fakeEncoder
	sp   *stream.Pool
	base time.Time
	seq  uint64
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	fx := &controllerFixture{
		enc:  &fakeEncoder{},
		sp:   stream.NewPool(1024, 32),
		base: time.Now(),
	}
	fx.c = NewController(testRecordingConfig(t), fx.enc, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		fx.c.Close(ctx)
	})
	return fx
}

func (fx *controllerFixture) frame(t *testing.T, offset time.Duration) *stream.Frame {
	t.Helper()
	fx.seq++
	payload := []byte{0xFF, 0xD8, byte(fx.seq), 0xFF, 0xD9}
	buf := fx.sp.Acquire(len(payload))
	copy(buf.Bytes(), payload)
	return stream.NewFrame("coop", fx.seq, fx.base.Add(offset), buf, len(payload))
}

func (fx *controllerFixture) motionAt(offset time.Duration) motion.Event {
	return motion.Event{
		ID:           "01TESTEVENT",
		SourceID:     "coop",
		Timestamp:    fx.base.Add(offset),
		IntensityPct: 12.5,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMotionStartsRecordingWithPreBuffer(t *testing.T) {
	fx := newControllerFixture(t)

	// Seed a pre-buffer with frames straddling the pre-motion window.
	pb := stream.NewPreBuffer(16)
	defer pb.Close()
	for _, off := range []time.Duration{-10 * time.Second, -2 * time.Second, -time.Second} {
		f := fx.frame(t, off)
		pb.Push(f)
		f.Release()
	}
	fx.c.mu.Lock()
	fx.c.prebuffers["coop"] = pb
	fx.c.mu.Unlock()

	fx.c.HandleMotion(fx.motionAt(0))

	rec, ok := fx.c.ActiveRecording("coop")
	require.True(t, ok)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, fx.base.Add(-3*time.Second), rec.Start)
	assert.Equal(t, fx.base.Add(5*time.Second), rec.End)

	// Only the two frames inside the window were captured.
	fx.c.mu.Lock()
	captured := len(fx.c.active["coop"].frames)
	fx.c.mu.Unlock()
	assert.Equal(t, 2, captured)
	assert.Equal(t, uint64(1), fx.c.Stats().Started)
}

func TestMotionDuringRecordingExtends(t *testing.T) {
	fx := newControllerFixture(t)

	fx.c.HandleMotion(fx.motionAt(0))
	fx.c.HandleMotion(fx.motionAt(2 * time.Second))

	rec, ok := fx.c.ActiveRecording("coop")
	require.True(t, ok)
	assert.Equal(t, fx.base.Add(7*time.Second), rec.End)

	s := fx.c.Stats()
	assert.Equal(t, uint64(1), s.Started)
	assert.Equal(t, uint64(1), s.Extended)
}

func TestFramePastEndFinalizesAndEncodes(t *testing.T) {
	fx := newControllerFixture(t)

	var finished []Summary
	var mu sync.Mutex
	fx.c.OnFinished(func(s Summary) {
		mu.Lock()
		finished = append(finished, s)
		mu.Unlock()
	})

	fx.c.HandleMotion(fx.motionAt(0))

	// Frames inside the window append; the one past End finalizes.
	for _, off := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		fx.c.handleFrame("coop", fx.frame(t, off))
	}
	fx.c.handleFrame("coop", fx.frame(t, 6*time.Second))

	waitFor(t, func() bool { return fx.enc.callCount() == 1 }, "encode never ran")

	_, stillActive := fx.c.ActiveRecording("coop")
	assert.False(t, stillActive)

	call := fx.enc.calls[0]
	assert.Equal(t, 3, call.frameCount)
	assert.Equal(t, 10, call.fps)
	assert.Equal(t, "medium", call.quality)
	for _, refs := range call.refsAtEncode {
		assert.GreaterOrEqual(t, refs, int32(1))
	}

	waitFor(t, func() bool { return fx.c.Stats().Completed == 1 }, "completion not recorded")

	// All frame refs released after the encoder consumed them.
	assert.Equal(t, int64(0), fx.sp.Stats().InUse)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1)
	assert.Equal(t, StateDone, finished[0].State)
	assert.Equal(t, "01TESTEVENT", finished[0].EventID)
	assert.Equal(t, 3, finished[0].FrameCount)
	assert.Equal(t, int64(3), finished[0].SizeBytes) // fake encoder writes "mp4"
	assert.InDelta(t, 12.5, finished[0].Motion.Intensity, 1e-9)

	// Sidecar JSON sits next to the MP4.
	sidecar := call.outputPath[:len(call.outputPath)-len(".mp4")] + ".json"
	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, finished[0].ID, s.ID)
	assert.Equal(t, "coop", s.SourceID)
}

func TestCooldownBlocksNewRecording(t *testing.T) {
	fx := newControllerFixture(t)

	fx.c.HandleMotion(fx.motionAt(0))
	fx.c.handleFrame("coop", fx.frame(t, time.Second))
	// Finalize by a frame past End (t=5s).
	fx.c.handleFrame("coop", fx.frame(t, 6*time.Second))
	waitFor(t, func() bool { return fx.enc.callCount() == 1 }, "encode never ran")

	// Cooldown runs 30s from finalization (t=6s): motion at t=20s ignored.
	fx.c.HandleMotion(fx.motionAt(20 * time.Second))
	_, active := fx.c.ActiveRecording("coop")
	assert.False(t, active)
	assert.Equal(t, uint64(1), fx.c.Stats().Skipped)

	// After the cooldown a fresh recording starts.
	fx.c.HandleMotion(fx.motionAt(40 * time.Second))
	_, active = fx.c.ActiveRecording("coop")
	assert.True(t, active)
}

func TestEncoderFailureReleasesFrames(t *testing.T) {
	fx := newControllerFixture(t)
	fx.enc.fail = true

	fx.c.HandleMotion(fx.motionAt(0))
	fx.c.handleFrame("coop", fx.frame(t, time.Second))
	fx.c.handleFrame("coop", fx.frame(t, 6*time.Second))

	waitFor(t, func() bool { return fx.c.Stats().Failed == 1 }, "failure not recorded")
	assert.Equal(t, int64(0), fx.sp.Stats().InUse)

	// The next motion after cooldown starts fresh; no retry of the failure.
	fx.c.HandleMotion(fx.motionAt(40 * time.Second))
	_, active := fx.c.ActiveRecording("coop")
	assert.True(t, active)
}

func TestOutputPathLayout(t *testing.T) {
	fx := newControllerFixture(t)

	rec := &Recording{ID: "r1", SourceID: "coop", Start: time.Date(2026, 8, 26, 14, 30, 5, 0, time.Local)}
	path := fx.c.outputPath(rec)

	dir, file := filepath.Split(path)
	assert.Equal(t, "2026-08-26", filepath.Base(filepath.Clean(dir)))
	assert.Regexp(t, `^motion_2026-08-26T14-30-05_[0-9a-f]{8}\.mp4$`, file)
}

func TestRetentionSweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 26, 3, 0, 0, 0, time.Local)

	for _, day := range []string{"2026-08-01", "2026-08-20", "2026-08-25"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, day), 0o755))
	}
	// Non-date entries survive.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "exports"), 0o755))

	r := NewRetention(dir, 14, nil)
	removed := r.Sweep(now)
	assert.Equal(t, 1, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"2026-08-20", "2026-08-25", "exports"}, names)
}

func TestRetentionSweepPrunesHistory(t *testing.T) {
	now := time.Date(2026, 8, 26, 3, 0, 0, 0, time.Local)

	var gotCutoff time.Time
	r := NewRetention(t.TempDir(), 14, nil)
	r.OnSweep(func(ctx context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	})

	r.Sweep(now)
	assert.Equal(t, now.AddDate(0, 0, -14), gotCutoff)
}

func TestRetentionSweepPrunesWithMissingOutputDir(t *testing.T) {
	// Recording disabled still prunes history; the file pass quietly no-ops.
	called := false
	r := NewRetention(filepath.Join(t.TempDir(), "does-not-exist"), 7, nil)
	r.OnSweep(func(ctx context.Context, cutoff time.Time) (int64, error) {
		called = true
		return 0, nil
	})

	assert.Equal(t, 0, r.Sweep(time.Now()))
	assert.True(t, called)
}

func TestRetentionDisabled(t *testing.T) {
	r := NewRetention(t.TempDir(), 0, nil)
	require.NoError(t, r.Start())
	r.Stop()
}

func TestCleanupPartials(t *testing.T) {
	dir := t.TempDir()
	day := filepath.Join(dir, "2026-08-26")
	require.NoError(t, os.MkdirAll(day, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(day, "motion_a.mp4.part"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "motion_b.mp4"), nil, 0o644))

	assert.Equal(t, 1, CleanupPartials(dir, nil))

	_, err := os.Stat(filepath.Join(day, "motion_b.mp4"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(day, "motion_a.mp4.part"))
	assert.True(t, os.IsNotExist(err))
}
