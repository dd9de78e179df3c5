package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client), mr
}

func TestRedisCounterLimit(t *testing.T) {
	c, _ := newTestRedisCounter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "token:1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, err := c.Allow(ctx, "token:1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Error("request over the limit should be denied")
	}
}

func TestRedisCounterKeysIndependent(t *testing.T) {
	c, _ := newTestRedisCounter(t)
	ctx := context.Background()

	if ok, _ := c.Allow(ctx, "token:1", 1, time.Minute); !ok {
		t.Fatal("first key should be allowed")
	}
	if ok, _ := c.Allow(ctx, "token:1", 1, time.Minute); ok {
		t.Error("first key should be exhausted")
	}
	if ok, _ := c.Allow(ctx, "token:2", 1, time.Minute); !ok {
		t.Error("second key must not share the first key's window")
	}
}

// The window is anchored to its first hit: traffic inside the window must
// not push the expiry out, or a steadily-used token would never see its
// counter reset.
func TestRedisCounterWindowAnchoredAtFirstHit(t *testing.T) {
	c, mr := newTestRedisCounter(t)
	ctx := context.Background()

	if ok, _ := c.Allow(ctx, "token:1", 2, time.Second); !ok {
		t.Fatal("first request should be allowed")
	}
	mr.FastForward(600 * time.Millisecond)
	if ok, _ := c.Allow(ctx, "token:1", 2, time.Second); !ok {
		t.Fatal("second request should be allowed")
	}
	if ok, _ := c.Allow(ctx, "token:1", 2, time.Second); ok {
		t.Fatal("third request in the window should be denied")
	}

	// 1.1s after the first hit the window has expired, even though the
	// mid-window hits would have refreshed a naive TTL.
	mr.FastForward(500 * time.Millisecond)
	if ok, _ := c.Allow(ctx, "token:1", 2, time.Second); !ok {
		t.Error("window should have reset one window after the first hit")
	}
}
