// Package router wires up the query API routes and applies the middleware
// chain (RequestID → Latency → Metrics → CORS → RateLimit → Auth → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/handler"
	apimw "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/middleware"
)

// Options carries the optional collaborators of the router. Nil fields
// disable the matching route or middleware.
type Options struct {
	Limiter *ratelimit.Limiter
	APIKey  string
	Metrics *metrics.Metrics
	Health  *health.Checker
	CORS    *apimw.CORSConfig

	// RequestTimeout bounds every route but the CSV upload, which runs a
	// whole ingestion synchronously. Zero disables it.
	RequestTimeout time.Duration
}

// New builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /api/v1/data               → paged unified records
//	GET    /api/v1/stats              → latest run per source
//	GET    /api/v1/health             → db + run ledger summary
//	POST   /api/v1/trigger            → publish sweep request
//	POST   /api/v1/upload-csv         → synchronous manual CSV run
//	GET    /api/v1/cache/stats        → query cache counters
//	POST   /api/v1/cache/invalidate   → drop cached pages
//	GET    /health, /stats            → redirects to /api/v1
//	GET    /health/live, /health/ready
//	GET    /metrics
func New(h *handler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/data", h.Data)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/trigger", h.Trigger)
	mux.HandleFunc("POST /api/v1/upload-csv", h.UploadCSV)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	mux.Handle("GET /health", http.RedirectHandler("/api/v1/health", http.StatusTemporaryRedirect))
	mux.Handle("GET /stats", http.RedirectHandler("/api/v1/stats", http.StatusTemporaryRedirect))

	if opts.Health != nil {
		mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	cors := apimw.DefaultCORSConfig()
	if opts.CORS != nil {
		cors = *opts.CORS
	}

	// Applied inside-out:
	// request → RequestID → Latency → Metrics → CORS → RateLimit → Auth → Timeout → mux
	var chain http.Handler = mux
	chain = pkgmw.Timeout(opts.RequestTimeout, "/api/v1/upload-csv")(chain)
	chain = apimw.RequireAPIKey(opts.APIKey)(chain)
	if opts.Limiter != nil {
		chain = apimw.RateLimit(opts.Limiter)(chain)
	}
	chain = apimw.CORS(cors)(chain)
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.Latency(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
