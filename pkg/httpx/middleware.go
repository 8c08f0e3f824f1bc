package httpx

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/metrics"
)

var (
	numericID = regexp.MustCompile(`/\d+`)
	uuidID    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// Middleware records request metrics and logs each request.
// It tracks:
//   - tinyfocus_http_requests_total (counter): by method, path, status
//   - tinyfocus_http_request_duration_seconds (histogram): request latency
//
// Usage:
//
//	r := mux.NewRouter()
//	r.Use(httpx.Middleware(log))
func Middleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			lat := time.Since(start)
			path := routePath(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(lat.Seconds())

			entry := log.WithFields(logrus.Fields{
				"request_id": reqID,
				"method":     r.Method,
				"path":       path,
				"status":     rw.statusCode,
				"latency_ms": lat.Milliseconds(),
			})
			switch {
			case rw.statusCode >= 500:
				entry.Error("request")
			case rw.statusCode >= 400:
				entry.Warn("request")
			default:
				entry.Debug("request")
			}
		})
	}
}

// routePath prefers the mux route template to keep label cardinality bounded
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces numeric ids and UUIDs with {id}.
// Examples:
//   - /v1/results/123 → /v1/results/{id}
//   - /v1/session/resume/3f2b...-... → /v1/session/resume/{id}
func normalizePath(path string) string {
	path = numericID.ReplaceAllString(path, "/{id}")
	return uuidID.ReplaceAllString(path, "/{id}")
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
