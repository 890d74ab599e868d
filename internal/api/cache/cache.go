// Package cache is a Redis-backed cache for unified-record listing queries.
// Concurrent misses for the same query collapse into a single database
// read.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "unified:"

// Backend is the subset of pkg/redis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Page is one cached listing result.
type Page struct {
	Records []etl.UnifiedRecord `json:"records"`
	Total   int                 `json:"total"`
}

// QueryCache caches listing pages keyed by their normalized query.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached page for q, if any. Backend errors count as misses.
func (c *QueryCache) Get(ctx context.Context, q store.UnifiedQuery) (*Page, bool) {
	key := BuildKey(q)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	return &page, true
}

// Set stores page for q. Failures are logged and otherwise ignored.
func (c *QueryCache) Set(ctx context.Context, q store.UnifiedQuery, page *Page) {
	key := BuildKey(q)
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for q or computes, stores and
// returns it. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(ctx context.Context, q store.UnifiedQuery, compute func() (*Page, error)) (*Page, bool, error) {
	if page, ok := c.Get(ctx, q); ok {
		return page, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(q), func() (any, error) {
		page, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Page), false, nil
}

// Invalidate drops every cached page.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey derives the cache key for q. Search terms are compared
// case-insensitively with collapsed whitespace, matching ILIKE semantics.
func BuildKey(q store.UnifiedQuery) string {
	search := strings.Join(strings.Fields(strings.ToLower(q.Search)), " ")
	raw := fmt.Sprintf("skip=%d|limit=%d|source=%s|search=%s", q.Skip, q.Limit, q.Source, search)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
