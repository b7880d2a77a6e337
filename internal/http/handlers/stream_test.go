package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/stream"
	"github.com/coopcam/coopcam/pkg/mjpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJPEG(marker byte) []byte {
	return []byte{0xFF, 0xD8, marker, 0xFF, 0xD9}
}

// newTestManager builds a manager with one source named "coop" pointed at
// the given upstream. An unreachable URL is fine for tests that never need
// frames; the proxy just retries in the background.
func newTestManager(t *testing.T, upstreamURL string) *stream.Manager {
	t.Helper()
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{ID: "coop", Name: "Coop Interior", URL: upstreamURL, IsDefault: true},
		},
	}
	m := stream.NewManager(context.Background(), cfg,
		stream.ProxySettings{PreBufferCapacity: 4, ViewerBacklog: 8},
		stream.NewPool(1024, 8), testLogger())
	t.Cleanup(m.Shutdown)
	return m
}

func TestStreamUnknownSourceReturnsCatalog(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/video")
	h := NewStreamHandler(m, "secret", 0, testLogger())

	router := chi.NewRouter()
	h.RegisterStream(router)

	req := httptest.NewRequest(http.MethodGet, "/api/stream/barn", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Success          bool     `json:"success"`
		Message          string   `json:"message"`
		AvailableSources []string `json:"availableSources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "barn")
	assert.Equal(t, []string{"coop"}, body.AvailableSources)
}

func TestStreamDeliversMultipartFrames(t *testing.T) {
	// The upstream emits continuously; the proxy connects eagerly, so the
	// viewer attaches somewhere mid-stream and reads whatever comes next.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", mjpeg.ContentType)
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for marker := byte(0); ; marker++ {
			select {
			case <-r.Context().Done():
				return
			case <-tick.C:
				if mjpeg.WritePart(w, testJPEG(marker)) != nil {
					return
				}
				fl.Flush()
			}
		}
	}))
	defer upstream.Close()

	m := newTestManager(t, upstream.URL+"/video")
	// Shut the manager down before the deferred upstream.Close runs;
	// otherwise Close blocks forever on the proxy's live upstream
	// connection (t.Cleanup fires only after all defers).
	defer m.Shutdown()
	h := NewStreamHandler(m, "secret", 0, testLogger())

	router := chi.NewRouter()
	h.RegisterStream(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream/default")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mjpeg.ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")

	mr := multipart.NewReader(resp.Body, mjpeg.Boundary)
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err, "part %d", i)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		got, err := io.ReadAll(part)
		require.NoError(t, err)
		require.Len(t, got, 5, "part %d", i)
		assert.Equal(t, []byte{0xFF, 0xD8}, got[:2], "part %d", i)
		assert.Equal(t, []byte{0xFF, 0xD9}, got[3:], "part %d", i)
	}
}

func TestPauseStreamWrongPassword(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/video")
	h := NewStreamHandler(m, "secret", 0, testLogger())

	input := &PauseStreamInput{SourceID: "coop"}
	input.Body.Password = "wrong"

	_, err := h.PauseStream(context.Background(), input)
	require.Error(t, err)

	var env *ErrorEnvelope
	require.True(t, errors.As(err, &env))
	assert.Equal(t, http.StatusUnauthorized, env.GetStatus())
	assert.False(t, env.Success)
}

func TestPauseStreamUnknownSource(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/video")
	h := NewStreamHandler(m, "secret", 0, testLogger())

	input := &PauseStreamInput{SourceID: "barn"}
	input.Body.Password = "secret"

	_, err := h.PauseStream(context.Background(), input)
	require.Error(t, err)

	var unknown *UnknownSourceError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, http.StatusNotFound, unknown.GetStatus())
	assert.Equal(t, []string{"coop"}, unknown.AvailableSources)
}

func TestPauseStreamAndStatus(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/video")
	h := NewStreamHandler(m, "secret", 10*time.Minute, testLogger())

	input := &PauseStreamInput{SourceID: "default"}
	input.Body.Password = "secret"

	before := time.Now()
	out, err := h.PauseStream(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, out.Body.Success)

	wantUntil := before.Add(10 * time.Minute).UnixMilli()
	assert.InDelta(t, wantUntil, out.Body.UntilEpochMs, 2000)

	status, err := h.GetStreamStatus(context.Background(), &StreamStatusInput{SourceID: "coop"})
	require.NoError(t, err)
	assert.True(t, status.Body.IsPaused)
	assert.Equal(t, out.Body.UntilEpochMs, status.Body.UntilEpochMs)
	assert.Greater(t, status.Body.RemainingMs, int64(0))

	// Resume clears the pause and the status reflects it.
	proxy, err := m.GetProxy("coop")
	require.NoError(t, err)
	proxy.Resume()

	status, err = h.GetStreamStatus(context.Background(), &StreamStatusInput{SourceID: "coop"})
	require.NoError(t, err)
	assert.False(t, status.Body.IsPaused)
	assert.Zero(t, status.Body.RemainingMs)
	assert.Zero(t, status.Body.UntilEpochMs)
}

func TestSourcesListing(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/video")
	h := NewSourcesHandler(m)

	out, err := h.ListSources(context.Background(), &ListSourcesInput{})
	require.NoError(t, err)
	require.Len(t, out.Body, 1)
	assert.Equal(t, "coop", out.Body[0].ID)
	assert.True(t, out.Body[0].IsDefault)
	assert.False(t, strings.HasSuffix(out.Body[0].DisplayURL, "/video"))
}
