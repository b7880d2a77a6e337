package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/coopcam/coopcam/internal/stream"
	"github.com/coopcam/coopcam/pkg/mjpeg"
)

// StreamHandler serves the live MJPEG streams and the per-source pause
// controls.
type StreamHandler struct {
	manager       *stream.Manager
	password      string
	pauseDuration time.Duration
	logger        *slog.Logger
}

// NewStreamHandler creates a stream handler. The password guards the pause
// endpoint; pauseDuration is how long one pause request suppresses the
// stream (default five minutes).
func NewStreamHandler(manager *stream.Manager, password string, pauseDuration time.Duration, logger *slog.Logger) *StreamHandler {
	if pauseDuration <= 0 {
		pauseDuration = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		manager:       manager,
		password:      password,
		pauseDuration: pauseDuration,
		logger:        logger.With(slog.String("component", "http.stream")),
	}
}

// PauseStreamInput is the input for the pause endpoint.
type PauseStreamInput struct {
	SourceID string `path:"sourceId" doc:"Source id or the 'default' alias"`
	Body     struct {
		Password string `json:"password" doc:"Stream pause password"`
	}
}

// PauseStreamOutput is the output for the pause endpoint.
type PauseStreamOutput struct {
	Body PauseStreamResponse
}

// PauseStreamResponse reports when the pause expires.
type PauseStreamResponse struct {
	Success      bool  `json:"success"`
	UntilEpochMs int64 `json:"untilEpochMs" doc:"Pause deadline, Unix epoch milliseconds"`
}

// StreamStatusInput is the input for the stream status endpoint.
type StreamStatusInput struct {
	SourceID string `path:"sourceId" doc:"Source id or the 'default' alias"`
}

// StreamStatusOutput is the output for the stream status endpoint.
type StreamStatusOutput struct {
	Body StreamStatusResponse
}

// StreamStatusResponse describes the pause state of one source.
type StreamStatusResponse struct {
	IsPaused     bool  `json:"isPaused"`
	UntilEpochMs int64 `json:"untilEpochMs,omitempty" doc:"Pause deadline when paused"`
	RemainingMs  int64 `json:"remainingMs" doc:"Milliseconds until the pause expires; 0 when not paused"`
}

// Register registers the JSON operations with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "pauseStream",
		Method:      http.MethodPost,
		Path:        "/api/stream/{sourceId}/pause",
		Summary:     "Pause a stream",
		Description: "Suppresses viewer broadcast and motion sampling for the source. The upstream connection stays up.",
		Tags:        []string{"stream"},
	}, h.PauseStream)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamStatus",
		Method:      http.MethodGet,
		Path:        "/api/stream/{sourceId}/status",
		Summary:     "Get stream pause status",
		Tags:        []string{"stream"},
	}, h.GetStreamStatus)
}

// RegisterStream registers the raw MJPEG endpoint on the router. Huma
// cannot express a multipart/x-mixed-replace response, so this one is
// plain chi.
func (h *StreamHandler) RegisterStream(router chi.Router) {
	router.Get("/api/stream/{sourceId}", h.handleStream)
}

// PauseStream handles POST /api/stream/{sourceId}/pause.
func (h *StreamHandler) PauseStream(ctx context.Context, input *PauseStreamInput) (*PauseStreamOutput, error) {
	proxy, err := h.manager.GetProxy(input.SourceID)
	if err != nil {
		return nil, NewUnknownSourceError(input.SourceID, h.manager.SourceIDs())
	}

	if subtle.ConstantTimeCompare([]byte(input.Body.Password), []byte(h.password)) != 1 {
		h.logger.Warn("pause rejected, wrong password",
			slog.String("source", proxy.Source().ID),
		)
		return nil, NewError(http.StatusUnauthorized, "invalid stream pause password")
	}

	until := proxy.Pause(h.pauseDuration)
	h.logger.Info("stream paused",
		slog.String("source", proxy.Source().ID),
		slog.Time("until", until),
	)

	return &PauseStreamOutput{
		Body: PauseStreamResponse{
			Success:      true,
			UntilEpochMs: until.UnixMilli(),
		},
	}, nil
}

// GetStreamStatus handles GET /api/stream/{sourceId}/status.
func (h *StreamHandler) GetStreamStatus(ctx context.Context, input *StreamStatusInput) (*StreamStatusOutput, error) {
	proxy, err := h.manager.GetProxy(input.SourceID)
	if err != nil {
		return nil, NewUnknownSourceError(input.SourceID, h.manager.SourceIDs())
	}

	paused, until := proxy.PauseState()
	resp := StreamStatusResponse{IsPaused: paused}
	if paused {
		resp.UntilEpochMs = until.UnixMilli()
		if remaining := time.Until(until); remaining > 0 {
			resp.RemainingMs = remaining.Milliseconds()
		}
	}

	return &StreamStatusOutput{Body: resp}, nil
}

// streamSink adapts the ResponseWriter into the viewer's flush-aware sink.
type streamSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *streamSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *streamSink) Flush() error {
	return s.rc.Flush()
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")

	proxy, err := h.manager.GetProxy(sourceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, NewUnknownSourceError(sourceID, h.manager.SourceIDs()))
		return
	}

	w.Header().Set("Content-Type", mjpeg.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	rc := http.NewResponseController(w)
	// The stream is open-ended; clear any per-connection write deadline.
	_ = rc.SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	viewer, err := proxy.AddViewer(&streamSink{w: w, rc: rc})
	if err != nil {
		return
	}

	h.logger.Info("viewer connected",
		slog.String("source", proxy.Source().ID),
		slog.String("viewer", viewer.ID.String()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	select {
	case <-r.Context().Done():
		proxy.RemoveViewer(viewer.ID)
	case <-viewer.Done():
		// Closed by the pipeline: repeated drops or proxy shutdown.
	}

	stats := viewer.Stats()
	h.logger.Info("viewer disconnected",
		slog.String("source", proxy.Source().ID),
		slog.String("viewer", viewer.ID.String()),
		slog.Uint64("frames_written", stats.FramesWritten),
		slog.Uint64("dropped", stats.Dropped),
	)
}
