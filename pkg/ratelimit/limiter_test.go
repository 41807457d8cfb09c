package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiter(t *testing.T) {
	l := NewInMemory(time.Minute)

	for i := 1; i <= 3; i++ {
		d := l.Allow("client-a", 3)
		if !d.Allowed {
			t.Fatalf("request %d within budget must be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
		}
	}

	d := l.Allow("client-a", 3)
	if d.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("denied decision must report zero remaining, got %d", d.Remaining)
	}

	if d := l.Allow("client-b", 3); !d.Allowed {
		t.Fatal("another client must get its own counter")
	}
}

func TestInMemoryLimiterWindowExpiry(t *testing.T) {
	l := NewInMemory(10 * time.Millisecond)
	if d := l.Allow("client-a", 1); !d.Allowed {
		t.Fatal("first request must pass")
	}
	if d := l.Allow("client-a", 1); d.Allowed {
		t.Fatal("second request inside the window must be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if d := l.Allow("client-a", 1); !d.Allowed {
		t.Fatal("expired window must reset the counter")
	}
}

func TestRetryAfterFloor(t *testing.T) {
	now := time.Now().UTC()
	d := Decision{ResetAt: now.Add(90 * time.Second)}
	if got := d.RetryAfter(now); got != 90 {
		t.Fatalf("expected 90s retry hint, got %d", got)
	}
	d = Decision{ResetAt: now.Add(-time.Second)}
	if got := d.RetryAfter(now); got != 1 {
		t.Fatalf("retry hint must floor at 1, got %d", got)
	}
}

func TestRedisLimiter(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	l := NewRedis(client, time.Minute, "rl:test:")
	for i := 1; i <= 2; i++ {
		if d := l.Allow("client-a", 2); !d.Allowed {
			t.Fatalf("request %d within budget must be allowed", i)
		}
	}
	if d := l.Allow("client-a", 2); d.Allowed {
		t.Fatal("third request must be denied")
	}

	srv.FastForward(2 * time.Minute)
	if d := l.Allow("client-a", 2); !d.Allowed {
		t.Fatal("window expiry must reset the shared counter")
	}
}

func TestRedisLimiterFallsBackWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	srv.Close()

	l := NewRedis(client, time.Minute, "rl:test:")
	if d := l.Allow("client-a", 1); !d.Allowed {
		t.Fatal("fallback must keep serving when redis is down")
	}
	if d := l.Allow("client-a", 1); d.Allowed {
		t.Fatal("fallback must still enforce the budget")
	}
}

func TestSetBucketsAreIndependent(t *testing.T) {
	set := NewSet(nil,
		Bucket{Name: "sensitive", Window: time.Minute, Limit: 2},
		Bucket{Name: "general", Window: time.Minute, Limit: 5},
	)

	for i := 0; i < 2; i++ {
		if d := set.Admit("sensitive", "client-a"); !d.Allowed {
			t.Fatal("sensitive budget must admit within limit")
		}
	}
	if d := set.Admit("sensitive", "client-a"); d.Allowed {
		t.Fatal("sensitive budget must deny past its limit")
	}
	if d := set.Admit("general", "client-a"); !d.Allowed {
		t.Fatal("exhausting one bucket must not charge another")
	}
	if d := set.Admit("unknown", "client-a"); !d.Allowed {
		t.Fatal("unknown buckets must allow")
	}
}
