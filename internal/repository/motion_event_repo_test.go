package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/database"
	"github.com/coopcam/coopcam/internal/models"
	"github.com/coopcam/coopcam/internal/motion"
)

func testRepo(t *testing.T) MotionEventRepository {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMotionEventRepository(db.DB)
}

func seedEvents(t *testing.T, repo MotionEventRepository, base time.Time) {
	t.Helper()
	for i := 0; i < 5; i++ {
		source := "coop"
		if i%2 == 1 {
			source = "run"
		}
		ev := &models.MotionEvent{
			ID:        fmt.Sprintf("01HXEVENT%017d", i),
			SourceID:  source,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Intensity: float64(10 * (i + 1)),
			Threshold: 5,
		}
		require.NoError(t, repo.Create(context.Background(), ev))
	}
}

func TestMotionEventCreateAndList(t *testing.T) {
	repo := testRepo(t)
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	seedEvents(t, repo, base)

	events, total, err := repo.List(context.Background(), MotionEventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 5)

	// Newest first.
	assert.Equal(t, base.Add(4*time.Minute), events[0].Timestamp.UTC())
	assert.Equal(t, base, events[4].Timestamp.UTC())
}

func TestMotionEventListFilters(t *testing.T) {
	repo := testRepo(t)
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	seedEvents(t, repo, base)

	events, total, err := repo.List(context.Background(), MotionEventFilter{SourceID: "run"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, events, 2)

	events, total, err = repo.List(context.Background(), MotionEventFilter{Since: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, events, 2)

	// Pagination: total reflects the full match count.
	events, total, err = repo.List(context.Background(), MotionEventFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, events, 2)
	assert.Equal(t, base.Add(3*time.Minute), events[0].Timestamp.UTC())
}

func TestMotionEventStats(t *testing.T) {
	repo := testRepo(t)
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	seedEvents(t, repo, base)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(3), stats.BySource["coop"])
	assert.Equal(t, int64(2), stats.BySource["run"])
	require.NotNil(t, stats.LastEvent)
	assert.Equal(t, base.Add(4*time.Minute), stats.LastEvent.UTC())
	assert.InDelta(t, 30, stats.MeanIntensity, 1e-9)
}

func TestMotionEventStatsEmpty(t *testing.T) {
	repo := testRepo(t)
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.BySource)
	assert.Nil(t, stats.LastEvent)
}

func TestMotionEventDeleteBefore(t *testing.T) {
	repo := testRepo(t)
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	seedEvents(t, repo, base)

	n, err := repo.DeleteBefore(context.Background(), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, total, err := repo.List(context.Background(), MotionEventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestSetRecordingRef(t *testing.T) {
	repo := testRepo(t)
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	seedEvents(t, repo, base)

	eventID := "01HXEVENT00000000000000000"
	require.NoError(t, repo.SetRecordingRef(context.Background(), eventID, "01HXRECORDING0000000000000"))

	events, _, err := repo.List(context.Background(), MotionEventFilter{})
	require.NoError(t, err)
	for _, ev := range events {
		if ev.ID == eventID {
			assert.Equal(t, "01HXRECORDING0000000000000", ev.RecordingRef)
		} else {
			assert.Empty(t, ev.RecordingRef)
		}
	}
}

func TestFromDetectionRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ev := motion.Event{
		ID:           "01HXDETECTION0000000000000",
		SourceID:     "coop",
		Timestamp:    time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC),
		IntensityPct: 42.5,
		Threshold:    0.05,
	}

	require.NoError(t, repo.Create(context.Background(), models.FromDetection(ev)))

	events, _, err := repo.List(context.Background(), MotionEventFilter{SourceID: "coop"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.InDelta(t, 42.5, events[0].Intensity, 1e-9)
	assert.InDelta(t, 0.05, events[0].Threshold, 1e-9)
}
