package cache

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	"github.com/redis/go-redis/v9"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrComputeCachesPage(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	q := store.UnifiedQuery{Limit: 10, Search: "Bitcoin"}
	var computed atomic.Int32
	compute := func() (*Page, error) {
		computed.Add(1)
		return &Page{Records: []etl.UnifiedRecord{{ExternalID: "cg_bitcoin"}}, Total: 1}, nil
	}

	page, hit, err := c.GetOrCompute(context.Background(), q, compute)
	if err != nil || hit || page.Total != 1 {
		t.Fatalf("first call: page=%+v hit=%v err=%v", page, hit, err)
	}
	// Same query modulo case and whitespace.
	page, hit, err = c.GetOrCompute(context.Background(), store.UnifiedQuery{Limit: 10, Search: "  bitcoin "}, compute)
	if err != nil || !hit || page.Records[0].ExternalID != "cg_bitcoin" {
		t.Fatalf("second call: page=%+v hit=%v err=%v", page, hit, err)
	}
	if computed.Load() != 1 {
		t.Errorf("expected 1 computation, got %d", computed.Load())
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}
}

func TestInvalidateDropsPages(t *testing.T) {
	b := newMemBackend()
	c := New(b, time.Minute, nil)
	q := store.UnifiedQuery{Limit: 5}
	c.Set(context.Background(), q, &Page{Total: 3})
	b.Set(context.Background(), "other:key", []byte("x"), 0)

	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(context.Background(), q); ok {
		t.Error("expected miss after invalidation")
	}
	if _, err := b.Get(context.Background(), "other:key"); err != nil {
		t.Error("invalidation removed foreign key")
	}
}

func TestBuildKeyDistinguishesFilters(t *testing.T) {
	a := BuildKey(store.UnifiedQuery{Limit: 10, Source: "rss_news"})
	b := BuildKey(store.UnifiedQuery{Limit: 10, Source: "csv_crypto"})
	c := BuildKey(store.UnifiedQuery{Limit: 10, Skip: 10, Source: "rss_news"})
	if a == b || a == c {
		t.Errorf("expected distinct keys, got %s %s %s", a, b, c)
	}
}
