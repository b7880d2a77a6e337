package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/internal/events"
	"github.com/coopcam/coopcam/internal/motion"
)

func sseFixture(t *testing.T) (*events.Broadcaster, *httptest.Server) {
	t.Helper()
	b := events.NewBroadcaster(0, testLogger())
	t.Cleanup(b.Close)

	h := NewEventsHandler(b, testLogger())
	h.SetHeartbeatInterval(20 * time.Millisecond)

	router := chi.NewRouter()
	h.RegisterSSE(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return b, srv
}

func sseWaitForSubscriber(t *testing.T, b *events.Broadcaster) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never registered")
}

func TestMotionEventsSSE(t *testing.T) {
	b, srv := sseFixture(t)

	resp, err := http.Get(srv.URL + "/api/events/motion")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	sseWaitForSubscriber(t, b)

	ts := time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC)
	b.Publish(motion.Event{
		ID:           "01HXSSEEVENT00000000000000",
		SourceID:     "coop",
		Timestamp:    ts,
		IntensityPct: 12.5,
		Threshold:    0.05,
	})

	scanner := bufio.NewScanner(resp.Body)
	var connected bool
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if line == ":connected" {
			connected = true
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.True(t, connected, "initial :connected comment missing")
	require.NotEmpty(t, dataLine, "no data line received")

	var payload struct {
		Type        string  `json:"type"`
		ID          string  `json:"id"`
		SourceID    string  `json:"sourceId"`
		TimestampMs int64   `json:"timestampMs"`
		Intensity   float64 `json:"intensity"`
		Threshold   float64 `json:"threshold"`
	}
	require.NoError(t, json.Unmarshal([]byte(dataLine), &payload))
	assert.Equal(t, "motion", payload.Type)
	assert.Equal(t, "01HXSSEEVENT00000000000000", payload.ID)
	assert.Equal(t, "coop", payload.SourceID)
	assert.Equal(t, ts.UnixMilli(), payload.TimestampMs)
	assert.InDelta(t, 12.5, payload.Intensity, 1e-9)
	assert.InDelta(t, 0.05, payload.Threshold, 1e-9)
}

func TestSSEHeartbeat(t *testing.T) {
	_, srv := sseFixture(t)

	resp, err := http.Get(srv.URL + "/api/events/motion")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ":heartbeat ") {
			found = true
			break
		}
	}
	assert.True(t, found, "no heartbeat within the stream")
}

func TestSSEClosesWhenBroadcasterCloses(t *testing.T) {
	b, srv := sseFixture(t)

	resp, err := http.Get(srv.URL + "/api/events/motion")
	require.NoError(t, err)
	defer resp.Body.Close()

	sseWaitForSubscriber(t, b)
	b.Close()

	// The handler returns once its subscription channel closes, ending the
	// response body.
	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE response did not end after broadcaster close")
	}
}
