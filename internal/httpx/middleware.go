package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"bizshell/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
)

// LogRequests logs method, route and latency of every request at info.
func LogRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			logger.Info("http_request",
				"method", r.Method,
				"route", route,
				"duration", time.Since(start),
				"request_id", middleware.RequestIDFromContext(r.Context()),
			)
		})
	}
}
