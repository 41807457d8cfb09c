package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisCache(t *testing.T) {
	srv, client := newTestRedis(t)
	cache := NewCache(context.Background(), client)
	if _, ok := cache.(*RedisCache); !ok {
		t.Fatalf("expected redis driver, got %T", cache)
	}
	ctx := context.Background()

	if _, err := cache.Get(ctx, "missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("miss must return redis.Nil, got %v", err)
	}

	if err := cache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cache.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get: %v %q", err, got)
	}

	srv.FastForward(2 * time.Minute)
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expired key must miss, got %v", err)
	}

	_ = cache.Set(ctx, "k2", "v2", time.Minute)
	if err := cache.Del(ctx, "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := cache.Get(ctx, "k2"); !errors.Is(err, redis.Nil) {
		t.Fatalf("deleted key must miss, got %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if _, err := cache.Get(ctx, "missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("miss must return redis.Nil, got %v", err)
	}

	if err := cache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cache.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get: %v %q", err, got)
	}

	_ = cache.Set(ctx, "short", "v", -time.Second)
	if _, err := cache.Get(ctx, "short"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expired entry must miss, got %v", err)
	}

	_ = cache.Del(ctx, "k")
	if _, err := cache.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("deleted key must miss, got %v", err)
	}
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	srv, client := newTestRedis(t)
	srv.Close()
	cache := NewCache(context.Background(), client)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected memory fallback when redis is down, got %T", cache)
	}

	cache = NewCache(context.Background(), nil)
	if _, ok := cache.(*MemoryCache); !ok {
		t.Fatalf("expected memory driver without a client, got %T", cache)
	}
}
