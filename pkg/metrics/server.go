package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Serve exposes /metrics plus any extra handlers (health probes) on port
// until ctx is done, then shuts the server down gracefully.
func (m *Metrics) Serve(ctx context.Context, port int, extra map[string]http.Handler) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      m.Mux(extra),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Mux returns a ServeMux with /metrics, the extra handlers and an index
// page linking to all of them.
func (m *Metrics) Mux(extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	paths := []string{"/metrics"}
	mux.Handle("/metrics", m.Handler())
	for pattern, h := range extra {
		mux.Handle(pattern, h)
		paths = append(paths, pattern)
	}
	sort.Strings(paths)

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>Ingestor</h1><ul>")
		for _, p := range paths {
			fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`, p, p)
		}
		fmt.Fprint(w, "</ul></body></html>")
	})
	return mux
}
