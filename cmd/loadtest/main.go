// Command loadtest drives concurrent GET /api/v1/data traffic against the
// query API and reports throughput, latency percentiles, status codes and
// the query cache hit ratio seen through the X-Cache response header,
// overall and per query kind.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8000] [-concurrency 10] [-duration 30s] [-rps 0] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// query is one request shape; kind groups shapes in the report.
type query struct {
	kind   string
	params url.Values
}

type sample struct {
	kind     string
	latency  time.Duration
	status   int
	cacheHit bool
	err      error
}

// Summary is the aggregated outcome for one query kind or for all traffic.
type Summary struct {
	Requests      int         `json:"requests"`
	Errors        int         `json:"errors"`
	CacheHitRatio float64     `json:"cache_hit_ratio"`
	P50MS         float64     `json:"p50_ms"`
	P90MS         float64     `json:"p90_ms"`
	P99MS         float64     `json:"p99_ms"`
	MaxMS         float64     `json:"max_ms"`
	StatusCodes   map[int]int `json:"status_codes"`

	hits      int
	latencies []time.Duration
}

func (s *Summary) add(smp sample) {
	s.Requests++
	if smp.err != nil || smp.status < 200 || smp.status >= 300 {
		s.Errors++
	}
	if smp.err != nil {
		return
	}
	if smp.cacheHit {
		s.hits++
	}
	s.StatusCodes[smp.status]++
	s.latencies = append(s.latencies, smp.latency)
}

func (s *Summary) finish() {
	if ok := s.Requests - s.Errors; ok > 0 {
		s.CacheHitRatio = float64(s.hits) / float64(ok)
	}
	slices.Sort(s.latencies)
	s.P50MS = ms(percentile(s.latencies, 50))
	s.P90MS = ms(percentile(s.latencies, 90))
	s.P99MS = ms(percentile(s.latencies, 99))
	if n := len(s.latencies); n > 0 {
		s.MaxMS = ms(s.latencies[n-1])
	}
}

// Report is the whole run.
type Report struct {
	Target         string              `json:"target"`
	Duration       string              `json:"duration"`
	RequestsPerSec float64             `json:"requests_per_sec"`
	Total          *Summary            `json:"total"`
	ByKind         map[string]*Summary `json:"by_kind"`
}

func newSummary() *Summary { return &Summary{StatusCodes: make(map[int]int)} }

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the query API")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "overall request rate cap, 0 for unlimited")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	if !*asJSON {
		fmt.Printf("load testing %s with %d workers for %s\n", *baseURL, *concurrency, *duration)
	}

	limit := rate.Inf
	if *rps > 0 {
		limit = rate.Limit(*rps)
	}
	rep, err := run(*baseURL, *concurrency, *duration, rate.NewLimiter(limit, 1), defaultQueries())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rep)
	} else {
		printReport(rep)
	}
	if rep.Total.Requests == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the API running?")
		os.Exit(1)
	}
}

// defaultQueries mixes plain pages, per-source filters and searches so that
// both cached and uncached paths get exercised.
func defaultQueries() []query {
	var out []query
	for _, limit := range []int{10, 50, 100} {
		out = append(out, query{"page", url.Values{"limit": {strconv.Itoa(limit)}}})
	}
	out = append(out, query{"page", url.Values{"skip": {"20"}, "limit": {"20"}}})
	for _, src := range []string{"csv_crypto", "coinpaprika", "coingecko", "rss_news"} {
		out = append(out, query{"source", url.Values{"source": {src}, "limit": {"20"}}})
	}
	for _, term := range []string{"bitcoin", "ethereum", "BTC", "market cap", "price", "news"} {
		out = append(out, query{"search", url.Values{"search": {term}, "limit": {"20"}}})
	}
	return out
}

func run(baseURL string, workers int, d time.Duration, limiter *rate.Limiter, queries []query) (*Report, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	samples := make(chan sample, workers*4)
	rep := &Report{Target: baseURL, Duration: d.String(), Total: newSummary(), ByKind: make(map[string]*Summary)}
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for smp := range samples {
			rep.Total.add(smp)
			k := rep.ByKind[smp.kind]
			if k == nil {
				k = newSummary()
				rep.ByKind[smp.kind] = k
			}
			k.add(smp)
		}
	}()

	var g errgroup.Group
	start := time.Now()
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; ; i++ {
				if limiter.Wait(ctx) != nil {
					return nil
				}
				q := queries[i%len(queries)]
				smp, ok := fetch(ctx, client, baseURL+"/api/v1/data?"+q.params.Encode())
				if !ok {
					return nil
				}
				smp.kind = q.kind
				samples <- smp
			}
		})
	}
	err := g.Wait()
	close(samples)
	<-collected

	rep.RequestsPerSec = float64(rep.Total.Requests) / time.Since(start).Seconds()
	rep.Total.finish()
	for _, k := range rep.ByKind {
		k.finish()
	}
	return rep, err
}

// fetch issues one GET; ok is false when the run deadline cut it short.
func fetch(ctx context.Context, client *http.Client, target string) (sample, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return sample{err: err}, true
	}
	began := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return sample{}, false
		}
		return sample{latency: time.Since(began), err: err}, true
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return sample{
		latency:  time.Since(began),
		status:   resp.StatusCode,
		cacheHit: resp.Header.Get("X-Cache") == "HIT",
	}, true
}

func printReport(rep *Report) {
	fmt.Printf("\n%-8s %9s %7s %8s %9s %9s %9s %9s\n", "kind", "requests", "errors", "hit%", "p50ms", "p90ms", "p99ms", "maxms")
	kinds := make([]string, 0, len(rep.ByKind))
	for k := range rep.ByKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	row := func(name string, s *Summary) {
		fmt.Printf("%-8s %9d %7d %7.1f%% %9.2f %9.2f %9.2f %9.2f\n",
			name, s.Requests, s.Errors, s.CacheHitRatio*100, s.P50MS, s.P90MS, s.P99MS, s.MaxMS)
	}
	for _, k := range kinds {
		row(k, rep.ByKind[k])
	}
	row("total", rep.Total)

	fmt.Printf("\nthroughput: %.1f req/s\nstatus codes:", rep.RequestsPerSec)
	codes := make([]int, 0, len(rep.Total.StatusCodes))
	for c := range rep.Total.StatusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Printf(" %d=%d", c, rep.Total.StatusCodes[c])
	}
	fmt.Println()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
