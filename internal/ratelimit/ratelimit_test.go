package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestShardedLimiterAllowsBurstThenThrottles(t *testing.T) {
	l := NewShardedLimiter(4, 1, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if allowed, limit, _, _ := l.Allow("tenant-1"); !allowed || limit != 3 {
			t.Fatalf("expected burst request %d to be allowed with limit 3, got allowed=%v limit=%d", i, allowed, limit)
		}
	}
	allowed, _, remaining, retryAfter := l.Allow("tenant-1")
	if allowed {
		t.Fatalf("expected request beyond burst to be throttled")
	}
	if remaining != 0 {
		t.Fatalf("expected zero remaining tokens when throttled, got %d", remaining)
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after when throttled, got %v", retryAfter)
	}
}

func TestShardedLimiterIsolatesKeys(t *testing.T) {
	l := NewShardedLimiter(4, 1, 1, time.Minute)

	if allowed, _, _, _ := l.Allow("tenant-a"); !allowed {
		t.Fatalf("expected tenant-a first request to be allowed")
	}
	if allowed, _, _, _ := l.Allow("tenant-b"); !allowed {
		t.Fatalf("expected tenant-b to have its own independent bucket")
	}
}

func TestShardedLimiterSweepEvictsIdleBuckets(t *testing.T) {
	l := NewShardedLimiter(2, 1, 1, time.Millisecond)
	l.Allow("tenant-1")

	time.Sleep(5 * time.Millisecond)
	l.Sweep()

	s := l.shardFor("tenant-1")
	s.mu.Lock()
	_, ok := s.buckets["tenant-1"]
	s.mu.Unlock()
	if ok {
		t.Fatalf("expected idle bucket to be evicted by Sweep")
	}
}

func TestShardedLimiterEvictsOldestBucketOverCapacity(t *testing.T) {
	l := NewShardedLimiter(1, 1, 1, time.Hour)
	s := l.shardFor("tenant-0")

	for i := 0; i < maxBucketsPerShard+5; i++ {
		l.Allow(fmt.Sprintf("tenant-%d", i))
	}

	s.mu.Lock()
	count := len(s.buckets)
	s.mu.Unlock()
	if count != maxBucketsPerShard {
		t.Fatalf("expected shard to stay bounded at %d buckets once it overflows, got %d", maxBucketsPerShard, count)
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := newTokenBucket(1000, 1)
	if allowed, _, _ := tb.Allow(); !allowed {
		t.Fatalf("expected first request to consume the single burst token")
	}
	if allowed, _, retryAfter := tb.Allow(); allowed || retryAfter <= 0 {
		t.Fatalf("expected immediate second request to be denied with a positive retry-after, got allowed=%v retryAfter=%v", allowed, retryAfter)
	}
	time.Sleep(5 * time.Millisecond)
	if allowed, _, _ := tb.Allow(); !allowed {
		t.Fatalf("expected token to have refilled after elapsed time")
	}
}

func TestNewRedisLimiterDefaultsPrefix(t *testing.T) {
	l := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	if l.prefix != "mindia:ratelimit" {
		t.Fatalf("expected default prefix, got %q", l.prefix)
	}
}
