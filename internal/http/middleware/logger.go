package middleware

import (
	"net/http"
	"time"

	"tariffsync/internal/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logger logs one line per request after it completes.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.WithFields(logger.Fields{
			"status":     ww.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         r.RemoteAddr,
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": chimw.GetReqID(r.Context()),
			"bytes":      ww.BytesWritten(),
		}).Info("request")
	})
}
