package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// limiterIdle is how long an unused per-subject bucket is kept.
const limiterIdle = 10 * time.Minute

// TokenBucketLimiter keeps one token bucket per subject and tier. A tier
// with N requests per minute refills at N/60 tokens per second and bursts
// up to N.
type TokenBucketLimiter struct {
	tiers      map[string]int
	defaultRPM int
	now        func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a limiter. tiers maps a service tier to
// requests per minute; tiers without an entry use defaultRPM. A limit of
// zero or less disables limiting for that tier.
func NewTokenBucketLimiter(tiers map[string]int, defaultRPM int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// Allow takes one token from the identity's bucket.
func (l *TokenBucketLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	rpm := l.defaultRPM
	if v, ok := l.tiers[tier]; ok {
		rpm = v
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + "\x00" + tier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets at most once per idle period.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdle {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= limiterIdle {
			delete(l.buckets, k)
		}
	}
}
