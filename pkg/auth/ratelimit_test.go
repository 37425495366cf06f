package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(map[string]int{"limited": 2, "unlimited": 0}, 100)
	l.now = func() time.Time { return now }

	alice := &Identity{Subject: "alice", ServiceTier: "limited"}
	bob := &Identity{Subject: "bob", ServiceTier: "limited"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, alice); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, alice); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("third request: err = %v, want ErrTooManyRequests", err)
	}

	// Buckets are per subject.
	if err := l.Allow(ctx, bob); err != nil {
		t.Errorf("bob: %v", err)
	}

	// 2 rpm refills one token every 30s.
	now = now.Add(31 * time.Second)
	if err := l.Allow(ctx, alice); err != nil {
		t.Errorf("after refill: %v", err)
	}
	if err := l.Allow(ctx, alice); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("after one refill only one token should be available, got %v", err)
	}

	for i := 0; i < 50; i++ {
		if err := l.Allow(ctx, &Identity{Subject: "carol", ServiceTier: "unlimited"}); err != nil {
			t.Fatalf("unlimited tier rejected: %v", err)
		}
	}
}

func TestTokenBucketLimiterDefaultTier(t *testing.T) {
	l := NewTokenBucketLimiter(nil, 1)
	id := &Identity{Subject: "dave"}

	if err := l.Allow(context.Background(), id); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow(context.Background(), id); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("second request: err = %v, want ErrTooManyRequests", err)
	}
}

func TestTokenBucketLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(nil, 10)
	l.now = func() time.Time { return now }

	_ = l.Allow(context.Background(), &Identity{Subject: "a"})
	_ = l.Allow(context.Background(), &Identity{Subject: "b"})

	now = now.Add(limiterIdle + time.Second)
	_ = l.Allow(context.Background(), &Identity{Subject: "c"})

	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d, want 1 after sweep", len(l.buckets))
	}
}
