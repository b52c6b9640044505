package middleware

import (
	"log"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Paths polled by scrapers and load balancers; logging them drowns out the
// requests that matter.
var quietPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

// RequestLogger tags every request with an id and logs the outcome. Streaming
// endpoints (SSE, the video socket) log once on disconnect, so a long
// duration there means a long-lived viewer, not a slow handler.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if quietPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		reqID := uuid.New().String()
		w.Header().Set("X-Request-ID", reqID)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Printf("[HTTP:%s] %s %s from %s -> %d (%d bytes) in %v",
			reqID, r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), ww.BytesWritten(), time.Since(start))
	})
}
