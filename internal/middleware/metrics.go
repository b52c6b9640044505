package middleware

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/guardcar/internal/metrics"
)

// Metrics counts requests by route pattern and status. Route patterns keep
// cardinality bounded (no raw paths with ids).
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(pattern, strconv.Itoa(ww.Status())).Inc()
	})
}
