package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/logger"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	LatencyHeader   = "X-API-Latency-MS"
)

// RequestID propagates the caller's X-Request-ID or assigns a new one, echoes
// it on the response and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	return logger.RequestID(ctx)
}

// Latency sets X-API-Latency-MS just before the handler writes its header.
func Latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := &latencyWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(lw, r)
	})
}

type latencyWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (lw *latencyWriter) WriteHeader(code int) {
	if !lw.wroteHeader {
		lw.wroteHeader = true
		lw.Header().Set(LatencyHeader, strconv.FormatInt(time.Since(lw.start).Milliseconds(), 10))
	}
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *latencyWriter) Write(b []byte) (int, error) {
	if !lw.wroteHeader {
		lw.WriteHeader(http.StatusOK)
	}
	return lw.ResponseWriter.Write(b)
}
