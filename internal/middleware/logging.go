package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags every request with an X-Request-ID and logs trace info.
// An inbound id from an upstream service is kept so stream-service and
// notifier logs correlate.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		start := time.Now()

		w.Header().Set("X-Request-ID", reqID)

		log.Printf("[REQ:%s] %s %s from %s", reqID, r.Method, r.URL.Path, r.RemoteAddr)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		log.Printf("[REQ:%s] Completed %d in %v", reqID, rw.status, time.Since(start))
	})
}
