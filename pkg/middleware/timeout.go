package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Timeout bounds each request with a context deadline. The handler runs on
// the serving goroutine and must honour its context; if it returns after the
// deadline without having written anything, a 504 is sent on its behalf.
// Paths listed in skip are served without a deadline.
func Timeout(timeout time.Duration, skip ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(skip))
	for _, p := range skip {
		exempt[p] = true
	}
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			inner := r.WithContext(ctx)
			next.ServeHTTP(tw, inner)
			// ServeMux records the matched route on the request it was
			// given; outer middleware labels metrics with it.
			r.Pattern = inner.Pattern

			if tw.wroteHeader || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			slog.Warn("request timed out",
				"method", r.Method,
				"path", r.URL.Path,
				"timeout", timeout,
				"request_id", GetRequestID(r.Context()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			w.Write([]byte(`{"detail":"request timeout"}`))
		})
	}
}

type timeoutWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
