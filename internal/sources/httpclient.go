package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/resilience"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 16 << 20

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL    string
	Status int
	// Wait is the upstream's Retry-After, zero when absent.
	Wait time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// RetryAfter lets resilience.Retry honour the upstream's Retry-After.
func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

// parseRetryAfter reads a Retry-After value in delay-seconds or HTTP-date
// form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// HTTPConfig tunes an HTTPClient.
type HTTPConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
	Breaker           resilience.CircuitBreakerConfig
}

// HTTPClient performs paced GET requests against one upstream, retrying
// transient failures behind a circuit breaker.
type HTTPClient struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPClient creates a client for the upstream called name. m may be nil.
func NewHTTPClient(name string, cfg HTTPConfig, m *metrics.Metrics) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.Retry.Retryable = isTransient
	if m != nil {
		gauge := m.CircuitBreakerState.WithLabelValues(name)
		gauge.Set(float64(resilience.StateClosed))
		cfg.Breaker.OnStateChange = func(_ string, to resilience.State) {
			gauge.Set(float64(to))
		}
	}
	return &HTTPClient{
		name:    name,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		retry:   cfg.Retry,
		breaker: resilience.NewCircuitBreaker(name, cfg.Breaker),
		logger:  slog.Default().With("component", "http-source", "upstream", name),
	}
}

// GetJSON fetches rawURL with query and headers and decodes the body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error {
	body, err := c.Get(ctx, rawURL, query, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	return nil
}

// Get fetches rawURL and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Errorf("parsing url %q: %w", rawURL, err))
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body []byte
	err = c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.name, c.retry, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return resilience.Permanent(err)
			}
			var err error
			body, err = c.do(ctx, u.String(), headers)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", c.name, err)
	}
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", "unified-ingestion/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debug("upstream response", "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			URL:    target,
			Status: resp.StatusCode,
			Wait:   parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// isTransient reports whether a failed request is worth retrying: network
// errors, 429 and 5xx responses.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return true
}
