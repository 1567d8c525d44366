package daemon

import (
	"log/slog"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/metrics"
)

// chain wraps a handler with request logging, metrics, and panic recovery.
func chain(logger *slog.Logger, adapter *derrors.HTTPErrorAdapter, recorder metrics.Recorder, next http.Handler) http.Handler {
	return loggingMiddleware(logger, recorder,
		panicRecoveryMiddleware(logger, adapter, next))
}

func loggingMiddleware(logger *slog.Logger, recorder metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		recorder.ObserveRequestDuration(r.URL.Path, wrapped.statusCode, duration)
		logger.Debug("http request",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(wrapped.statusCode),
			slog.Duration("duration", duration),
			logfields.RemoteAddr(r.RemoteAddr))
	})
}

func panicRecoveryMiddleware(logger *slog.Logger, adapter *derrors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("http handler panic",
					slog.Any("panic", recovered),
					logfields.Method(r.Method),
					logfields.Path(r.URL.Path))
				adapter.WriteError(w, derrors.New(derrors.CategoryInternal,
					derrors.SeverityError, "internal server error").
					WithContext("path", r.URL.Path))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures status codes for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
