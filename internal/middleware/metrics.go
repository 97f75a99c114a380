package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classpulse-backend/internal/metrics"
)

// Metrics records request duration and counts. The path label is the chi
// route pattern, not the raw URL, so ids never explode label cardinality.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(r.Method, path, status, time.Since(start))
		})
	}
}
