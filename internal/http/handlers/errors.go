// Package handlers provides the HTTP API handlers for coopcam.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// ErrorEnvelope is the client-visible error body for API failures:
// {success:false, error, message?}.
type ErrorEnvelope struct {
	status  int
	Success bool   `json:"success"`
	Err     string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Err
}

func (e *ErrorEnvelope) GetStatus() int {
	return e.status
}

// NewError builds the envelope for a status and message.
func NewError(status int, message string) *ErrorEnvelope {
	return &ErrorEnvelope{
		status:  status,
		Success: false,
		Err:     http.StatusText(status),
		Message: message,
	}
}

func init() {
	// Replace Huma's RFC 7807 error model with the envelope every endpoint
	// in this API uses.
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		env := NewError(status, message)
		if len(errs) > 0 && errs[0] != nil {
			env.Message = message + ": " + errs[0].Error()
		}
		return env
	}
}

// UnknownSourceError is the 404 body for a source id that is not
// configured; it lists the ids that are.
type UnknownSourceError struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	AvailableSources []string `json:"availableSources"`
}

func (e *UnknownSourceError) Error() string {
	return e.Message
}

func (e *UnknownSourceError) GetStatus() int {
	return http.StatusNotFound
}

// NewUnknownSourceError builds the 404 body for an unconfigured source id.
func NewUnknownSourceError(sourceID string, available []string) *UnknownSourceError {
	return &UnknownSourceError{
		Success:          false,
		Message:          "unknown stream source: " + sourceID,
		AvailableSources: available,
	}
}

// writeJSON serves the raw (non-Huma) endpoints that need a JSON body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
