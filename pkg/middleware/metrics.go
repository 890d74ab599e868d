// Package middleware provides reusable HTTP middleware for request IDs,
// latency headers, Prometheus metrics, and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
)

// unmatchedPath labels requests no route accepted, so probes for random
// URLs share one series.
const unmatchedPath = "unmatched"

// Metrics records request count, latency, response size and the in-flight
// gauge. Requests are labelled with the ServeMux pattern that served them.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := routeLabel(r, rw.status)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytes))
		})
	}
}

// routeLabel returns the matched pattern. Requests short-circuited before
// routing (rate limited, unauthorized) keep their raw path; 404 and 405
// responses without a pattern collapse into unmatchedPath.
func routeLabel(r *http.Request, status int) string {
	switch {
	case r.Pattern != "":
		return r.Pattern
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return unmatchedPath
	default:
		return r.URL.Path
	}
}

// recordingWriter captures the status code and body size.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
