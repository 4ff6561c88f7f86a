// Package middleware provides HTTP middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// normalizeEndpoint replaces provider and breaker names with placeholders to
// keep label cardinality bounded.
func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/health/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/health/"), "/")
		if len(parts) == 1 {
			return "/api/health/:provider"
		}
		if len(parts) == 2 && (parts[1] == "events" || parts[1] == "reset") {
			return "/api/health/:provider/" + parts[1]
		}

		return "/api/health/:unknown"
	case path == "/api/breakers/reset":
		return path
	case strings.HasPrefix(path, "/api/breakers/"):
		// Names may contain slashes; the handler takes everything before "/reset".
		if strings.HasSuffix(path, "/reset") {
			return "/api/breakers/:name/reset"
		}

		return "/api/breakers/:unknown"
	default:
		return path
	}
}
