package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/coopcam/coopcam/internal/database"
	"github.com/coopcam/coopcam/internal/stream"
)

// HealthHandler serves liveness and detailed health endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	manager   *stream.Manager
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB adds a database liveness check.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithManager adds per-source upstream connectivity to the health detail.
func (h *HealthHandler) WithManager(m *stream.Manager) *HealthHandler {
	h.manager = m
	return h
}

// HealthInput is the input for the health detail endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health detail endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health detail body.
type HealthResponse struct {
	Status        string            `json:"status" doc:"ok or degraded"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Components    map[string]string `json:"components"`
	Sources       map[string]string `json:"sources,omitempty" doc:"Per-source upstream state: connected or disconnected"`
}

// Register registers the health detail route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health detail",
		Tags:        []string{"system"},
	}, h.GetHealth)
}

// RegisterLiveness registers the bare liveness probe on the router.
func (h *HealthHandler) RegisterLiveness(router chi.Router) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
}

// GetHealth handles GET /api/health.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    make(map[string]string),
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			resp.Components["database"] = "error: " + err.Error()
			resp.Status = "degraded"
		} else {
			resp.Components["database"] = "ok"
		}
	} else {
		resp.Components["database"] = "not_configured"
	}

	if h.manager != nil {
		resp.Sources = make(map[string]string)
		for _, p := range h.manager.Proxies() {
			state := "disconnected"
			if p.Stats().IsConnected {
				state = "connected"
			}
			resp.Sources[p.Source().ID] = state
		}
	}

	return &HealthOutput{Body: resp}, nil
}
