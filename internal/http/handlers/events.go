package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coopcam/coopcam/internal/events"
	"github.com/coopcam/coopcam/internal/motion"
)

// EventsHandler serves the motion event SSE channel.
type EventsHandler struct {
	broadcaster       *events.Broadcaster
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewEventsHandler creates an SSE events handler.
func NewEventsHandler(broadcaster *events.Broadcaster, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		broadcaster:       broadcaster,
		logger:            logger.With(slog.String("component", "http.events")),
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval overrides the SSE keepalive interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on the router. SSE cannot go
// through Huma; it needs a raw streaming handler.
func (h *EventsHandler) RegisterSSE(router chi.Router) {
	router.Get("/api/events/motion", h.handleMotionEvents)
}

// motionEventPayload is the JSON body of one SSE data line.
type motionEventPayload struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	Timestamp   time.Time `json:"timestamp"`
	TimestampMs int64     `json:"timestampMs"`
	Intensity   float64   `json:"intensity"`
	Threshold   float64   `json:"threshold"`
}

func payloadFor(ev motion.Event) motionEventPayload {
	return motionEventPayload{
		Type:        "motion",
		ID:          ev.ID,
		SourceID:    ev.SourceID,
		Timestamp:   ev.Timestamp,
		TimestampMs: ev.Timestamp.UnixMilli(),
		Intensity:   ev.IntensityPct,
		Threshold:   ev.Threshold,
	}
}

func (h *EventsHandler) handleMotionEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	// The event stream is open-ended; clear any write deadline.
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Initial comment establishes the stream and triggers onopen in the
	// browser's EventSource.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	h.logger.Debug("sse subscriber connected", slog.String("subscriber", sub.ID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected",
					slog.Any("error", err),
				)
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				// Evicted by the broadcaster or shutdown.
				return
			}
			data, err := json.Marshal(payloadFor(ev))
			if err != nil {
				h.logger.Error("marshaling sse event",
					slog.String("event", ev.ID),
					slog.Any("error", err),
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected",
					slog.Any("error", err),
				)
				return
			}
		}
	}
}
