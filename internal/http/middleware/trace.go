package middleware

import (
	"log"
	"net/http"
	"time"
)

type tracedWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *tracedWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *tracedWriter) Write(body []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	written, err := w.ResponseWriter.Write(body)
	w.bytes += written
	return written, err
}

func Trace(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			traced := &tracedWriter{ResponseWriter: w}
			next.ServeHTTP(traced, r)
			if logger != nil {
				if traced.status == 0 {
					traced.status = http.StatusOK
				}
				logger.Printf(
					"trace request_id=%s method=%s path=%s status=%d bytes=%d duration_ms=%d",
					GetRequestID(r.Context()),
					r.Method,
					r.URL.Path,
					traced.status,
					traced.bytes,
					time.Since(start).Milliseconds(),
				)
			}
		})
	}
}
