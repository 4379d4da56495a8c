package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis instance. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 3, Window: 10 * time.Second}
	id := fmt.Sprintf("test_within_%d", time.Now().UnixNano())

	for i := 0; i < rule.Limit; i++ {
		ok, err := l.Allow(ctx, id, rule)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow #%d = false, want true", i)
		}
	}

	ok, err := l.Allow(ctx, id, rule)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if ok {
		t.Error("request over the limit was allowed")
	}
}

func TestAllow_IndependentIdentifiers(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 1, Window: 10 * time.Second}
	now := time.Now().UnixNano()

	first := fmt.Sprintf("test_a_%d", now)
	second := fmt.Sprintf("test_b_%d", now)

	if ok, _ := l.Allow(ctx, first, rule); !ok {
		t.Fatal("first identifier blocked on first request")
	}
	if ok, _ := l.Allow(ctx, first, rule); ok {
		t.Error("first identifier not blocked over limit")
	}
	if ok, _ := l.Allow(ctx, second, rule); !ok {
		t.Error("second identifier blocked by first identifier's usage")
	}
}
