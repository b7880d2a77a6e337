package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/coopcam/coopcam/internal/stream"
)

// SourcesHandler lists the configured camera sources.
type SourcesHandler struct {
	manager *stream.Manager
}

// NewSourcesHandler creates a sources handler.
func NewSourcesHandler(manager *stream.Manager) *SourcesHandler {
	return &SourcesHandler{manager: manager}
}

// ListSourcesInput is the input for the sources endpoint.
type ListSourcesInput struct{}

// ListSourcesOutput is the output for the sources endpoint.
type ListSourcesOutput struct {
	Body []stream.SourceInfo
}

// Register registers the sources routes with the API.
func (h *SourcesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSources",
		Method:      http.MethodGet,
		Path:        "/api/sources",
		Summary:     "List camera sources",
		Tags:        []string{"sources"},
	}, h.ListSources)
}

// ListSources handles GET /api/sources.
func (h *SourcesHandler) ListSources(ctx context.Context, input *ListSourcesInput) (*ListSourcesOutput, error) {
	return &ListSourcesOutput{Body: h.manager.ListSources()}, nil
}
