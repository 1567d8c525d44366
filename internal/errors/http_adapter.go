package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter translates StratusError categories into HTTP responses.
// Write endpoints return a typed single-line reason; hook-origin endpoints
// swallow internal failures at the handler level instead (see daemon).
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates a new HTTP error adapter.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// StatusCodeFor maps an error to an HTTP status code.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch GetCategory(err) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryState, CategoryConflict:
		return http.StatusConflict
	case CategoryStorage, CategoryBackend, CategoryDaemon:
		return http.StatusServiceUnavailable
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a JSON error body with the mapped status code.
func (a *HTTPErrorAdapter) WriteError(w http.ResponseWriter, err error) {
	status := a.StatusCodeFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("error", err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":    err.Error(),
		"category": string(GetCategory(err)),
	})
}
