package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
)

func TestOptionsPrefersURL(t *testing.T) {
	opts, err := options(config.RedisConfig{
		URL:      "redis://:secret@cache.internal:6380/3",
		Addr:     "localhost:6379",
		PoolSize: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 3 || opts.Password != "secret" || opts.PoolSize != 7 {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestOptionsRejectsBadURL(t *testing.T) {
	if _, err := options(config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}

func TestOptionsFromFields(t *testing.T) {
	opts, err := options(config.RedisConfig{Addr: "localhost:6379", DB: 1})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 1 {
		t.Errorf("unexpected options %+v", opts)
	}
}

// TestFlushByPatternAgainstServer needs a reachable Redis; set
// TEST_REDIS_ADDR to run it.
func TestFlushByPatternAgainstServer(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, config.RedisConfig{Addr: addr, DB: 15})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer c.Close()

	prefix := fmt.Sprintf("flushtest:%d:", time.Now().UnixNano())
	for i := 0; i < scanBatch+25; i++ {
		if err := c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), []byte("x"), time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Set(ctx, "keep:"+prefix, []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}

	n, err := c.FlushByPattern(ctx, prefix+"*")
	if err != nil {
		t.Fatal(err)
	}
	if n != scanBatch+25 {
		t.Errorf("removed %d keys, want %d", n, scanBatch+25)
	}
	if _, err := c.Get(ctx, "keep:"+prefix); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}
	if _, err := c.Get(ctx, prefix+"0"); !IsNilError(err) {
		t.Errorf("expected nil error, got %v", err)
	}
}
