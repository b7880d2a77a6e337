package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/coopcam/coopcam/internal/models"
	"github.com/coopcam/coopcam/internal/repository"
)

// MotionHandler serves the persisted motion event history.
type MotionHandler struct {
	repo   repository.MotionEventRepository
	logger *slog.Logger
}

// NewMotionHandler creates a motion history handler.
func NewMotionHandler(repo repository.MotionEventRepository, logger *slog.Logger) *MotionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MotionHandler{
		repo:   repo,
		logger: logger.With(slog.String("component", "http.motion")),
	}
}

// MotionHistoryInput is the input for the motion history endpoint.
type MotionHistoryInput struct {
	Limit    int    `query:"limit" doc:"Page size, default 100, max 500"`
	Offset   int    `query:"offset" doc:"Rows to skip"`
	Since    int64  `query:"since" doc:"Only events at or after this Unix epoch-millisecond cutoff"`
	SourceID string `query:"sourceId" doc:"Restrict to one source"`
}

// MotionHistoryOutput is the output for the motion history endpoint.
type MotionHistoryOutput struct {
	Body MotionHistoryResponse
}

// MotionHistoryResponse is one page of motion history plus aggregates.
type MotionHistoryResponse struct {
	Success bool                         `json:"success"`
	Events  []*models.MotionEvent        `json:"events"`
	Total   int64                        `json:"total" doc:"Matching rows before pagination"`
	Offset  int                          `json:"offset"`
	Limit   int                          `json:"limit" doc:"Effective page size"`
	Stats   *repository.MotionEventStats `json:"stats"`
}

// Register registers the motion history routes with the API.
func (h *MotionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMotionHistory",
		Method:      http.MethodGet,
		Path:        "/api/motion/history",
		Summary:     "List motion event history",
		Tags:        []string{"motion"},
	}, h.GetHistory)
}

// GetHistory handles GET /api/motion/history.
func (h *MotionHandler) GetHistory(ctx context.Context, input *MotionHistoryInput) (*MotionHistoryOutput, error) {
	filter := repository.MotionEventFilter{
		SourceID: input.SourceID,
		Limit:    input.Limit,
		Offset:   input.Offset,
	}
	if input.Since > 0 {
		filter.Since = time.UnixMilli(input.Since)
	}

	events, total, err := h.repo.List(ctx, filter)
	if err != nil {
		h.logger.Error("listing motion history", slog.Any("error", err))
		return nil, NewError(http.StatusInternalServerError, "listing motion history")
	}

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		h.logger.Error("aggregating motion history", slog.Any("error", err))
		return nil, NewError(http.StatusInternalServerError, "aggregating motion history")
	}

	if events == nil {
		events = []*models.MotionEvent{}
	}

	return &MotionHistoryOutput{
		Body: MotionHistoryResponse{
			Success: true,
			Events:  events,
			Total:   total,
			Offset:  input.Offset,
			Limit:   repository.ClampLimit(input.Limit),
			Stats:   stats,
		},
	}, nil
}
