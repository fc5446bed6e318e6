package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bizshell/internal/observability/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWithRequestAndTraceKeepsIncomingID(t *testing.T) {
	var seen string
	h := WithRequestAndTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatalf("expected generated trace id")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tabs", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-1" {
		t.Fatalf("expected request id to be propagated, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("expected request id header echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestWithMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(WithMetrics)
	r.Get("/v1/cache/entries/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/cache/entries/{key}", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cache/entries/groups", nil))
	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/cache/entries/{key}", "404"))

	if after-before != 1 {
		t.Fatalf("expected one request counted under the route pattern, got %v", after-before)
	}
}
